// Package client is a Go sync client for docsync servers.
//
// Dial opens a WebSocket to /v1/documents/{id}/sync, completes the
// handshake and keeps a local replica of the document. Local edits are
// applied to the replica and sent right away; remote updates are merged as
// they arrive. The client answers server heartbeats, so an idle client
// stays connected.
//
//	c, err := client.Dial(ctx, "http://127.0.0.1:7070", "notes", client.Options{Token: tok})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	err = c.Append("hello")
package client
