//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// bookauth.UserStore. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: the user record, keyed by user id
//   - UserEmail: one entity per normalized email, keyed by the email
//   - UserOAuth: one entity per linked provider identity, keyed by the id
//   - ResetToken: the outstanding reset token digest of a user
//
// Datastore has no unique indexes, so the three marker kinds are written in
// the same transaction as the user. Uniqueness and single redemption follow
// from the transaction's conflict detection on the marker keys.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
package gae
