package handler

import (
	"slices"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/backkem/hdcp/pkg/store"
)

// keyed is the set of stages in which a session key exists.
var keyed = []store.Stage{
	store.StageSessionKeyed,
	store.StageEncryptionControlled,
	store.StageRepeaterValidated,
}

// predecessors lists the stages each protocol action may follow. Kinds
// without an entry are not stage ordered.
var predecessors = map[action.Kind][]store.Stage{
	action.KindVerifyCertificate: {store.StageStarted},
	action.KindKmKdGen:           {store.StageCertificateVerified},
	action.KindValidateHprime:    {store.StageKeysDerived},
	action.KindLcInit:            {store.StageHprimeValidated},
	action.KindValidateLprime:    {store.StageHprimeValidated},
	action.KindEksGen:            {store.StageLCValidated},
	action.KindValidateVprime:    keyed,
	action.KindValidateMprime:    {store.StageRepeaterValidated},
	action.KindSaveSession:       keyed,
}

// requireStage checks ss.PrevStage against the predecessors of k.
func requireStage(ss *store.SessionSecrets, k action.Kind) error {
	allowed, ok := predecessors[k]
	if !ok {
		return nil
	}
	if !slices.Contains(allowed, ss.PrevStage) {
		return ErrStageOrder
	}
	return nil
}

// session reads the session region and checks the stage for k.
func (e *Env) session(k action.Kind) (store.SessionSecrets, error) {
	ss, err := e.store.Session()
	if err != nil {
		return ss, err
	}
	if err := requireStage(&ss, k); err != nil {
		e.warnf("%s rejected in stage %s", k, ss.PrevStage)
		return ss, err
	}
	return ss, nil
}

// advance re-checks the stage for k and applies fn under one store update.
func (e *Env) advance(k action.Kind, fn func(ss *store.SessionSecrets) error) error {
	return e.store.Update(func(ss *store.SessionSecrets) error {
		if err := requireStage(ss, k); err != nil {
			return err
		}
		from := ss.PrevStage
		if err := fn(ss); err != nil {
			return err
		}
		if ss.PrevStage != from {
			e.debugf("%s: %s -> %s", k, from, ss.PrevStage)
		}
		return nil
	})
}

// reject records a refused receiver value and returns cause. A store that
// fails its integrity check wins over cause; other failures to record are
// dropped.
func (e *Env) reject(k action.Kind, cause error) error {
	return e.rejectWith(k, cause, nil)
}

// rejectWith is reject with an extra state change applied in the same
// update.
func (e *Env) rejectWith(k action.Kind, cause error, fn func(ss *store.SessionSecrets)) error {
	err := e.store.Update(func(ss *store.SessionSecrets) error {
		if ss.Rejects < 0xff {
			ss.Rejects++
		}
		if fn != nil {
			fn(ss)
		}
		return nil
	})
	e.warnf("%s: receiver value rejected", k)
	if status.Of(err) == status.IntegrityViolation {
		return err
	}
	return cause
}
