//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based bookauth.UserStore. It supports any
// database GORM supports; Open wires PostgreSQL through pgx, and the tests
// run against SQLite.
//
// # Database Schema
//
// AutoMigrate creates a single users table. Email and oauth_id carry unique
// indexes (oauth_id is nullable, so password-only users do not collide) and
// reset_token_hash is indexed for the reset link lookup.
//
// # Usage
//
//	db, _ := gormstore.Open(dsn)
//	_ = gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
package gorm
