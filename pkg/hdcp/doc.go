// Package hdcp is the top-level HDCP 2.2 transmitter engine.
//
// An Engine owns one secret store, one handler environment and one
// dispatcher. Callers fill the engine's argument storage with a secure
// action and submit it; the engine runs exactly one handler per call and
// never keeps plaintext request data in its working memory afterwards.
//
// # Creating an Engine
//
//	eng, err := hdcp.NewEngine(hdcp.Config{
//	    Link:        backend,
//	    TrustAnchor: dcpPublicKey,
//	    Mode:        dispatch.ModeIsolated,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Submitting Actions
//
//	req := eng.ArgumentStorage()
//	start := &action.StartSession{ControllerIndex: 0}
//	req.Kind, req.Payload = start.Kind(), start
//	if err := eng.SecureAction(ctx, req); err != nil {
//	    return err
//	}
//	// start.Rtx and start.Rn now hold the AKE_Init nonces.
//
// Every error returned maps to a status code with status.Of.
package hdcp
