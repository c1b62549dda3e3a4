/*
Package agentsdk is the client the timekeep desktop agent uses to talk to
the timekeep service.

# Client vs Session

A Client performs unauthenticated calls and logs in:

	client := agentsdk.NewClient("https://timekeep.example.com", deviceID)

	status, err := client.BootstrapStatus(ctx)

	session, err := client.Login(ctx, agentsdk.Credentials{
		TenantID: "acme",
		Email:    "ann@acme.test",
		Password: password,
	})

A Session carries the device-bound token pair. Every call refreshes the
access token when it is about to expire, and each refresh rotates the
refresh token, so a Session must not be copied between processes:

	ws, err := session.StartSession(ctx)
	ws, err = session.Pause(ctx, ws.ID)
	ws, err = session.End(ctx, ws.ID, agentsdk.Summary{ActiveSeconds: 3600})

# Realtime

Subscribe opens the websocket and yields server events until the context
ends or the server closes the connection:

	sub, err := session.Subscribe(ctx)
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			break
		}
		if ev.Event == agentsdk.EventSessionForceEnd {
			// stop capturing
		}
	}

# Errors

Non-2xx responses come back as *APIError. Use IsCode to branch on the
error code:

	if agentsdk.IsCode(err, agentsdk.CodeConflictingSession) {
		// another device already has a session open
	}
*/
package agentsdk
