// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by repositories when an insert or update
// collides with the unique email index.
var ErrEmailTaken = errors.New("email already registered")

// ErrUsernameTaken is returned by repositories when an insert or update
// collides with the unique username index.
var ErrUsernameTaken = errors.New("username already taken")
