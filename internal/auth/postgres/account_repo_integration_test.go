// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container and applies the
// schema migrations.
func setupPostgresContainer() (*store.DB, func(), error) {
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("keyfold_test"),
		pgcontainer.WithUsername("keyfold"),
		pgcontainer.WithPassword("keyfold"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	db, err := store.Open(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		db.Close()
		_ = container.Terminate(ctx)
	}

	return db, cleanup, nil
}

func newAccount(email, username string) *auth.Account {
	return &auth.Account{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		PasswordHash: "hash123",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

var _ = Describe("AccountRepository", func() {
	var db *store.DB
	var repo *postgres.AccountRepository
	var cleanup func()
	ctx := context.Background()

	BeforeEach(func() {
		var err error
		db, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewAccountRepository(db.Pool())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Create", func() {
		It("stores and retrieves an account", func() {
			account := newAccount("user@example.com", "someuser")
			account.Preferences = auth.Preferences{
				Notifications: auth.NotificationSettings{Email: true, Frequency: "daily"},
			}

			Expect(repo.Create(ctx, account)).To(Succeed())

			stored, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Email).To(Equal("user@example.com"))
			Expect(stored.Username).To(Equal("someuser"))
			Expect(stored.Verified).To(BeFalse())
			Expect(stored.Preferences.Notifications.Email).To(BeTrue())
			Expect(stored.Preferences.Notifications.Frequency).To(Equal("daily"))
		})

		It("rejects a duplicate email regardless of case", func() {
			Expect(repo.Create(ctx, newAccount("user@example.com", "first"))).To(Succeed())

			err := repo.Create(ctx, newAccount("USER@EXAMPLE.COM", "second"))
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})

		It("rejects a duplicate username regardless of case", func() {
			Expect(repo.Create(ctx, newAccount("a@example.com", "someuser"))).To(Succeed())

			err := repo.Create(ctx, newAccount("b@example.com", "SOMEUSER"))
			Expect(err).To(MatchError(auth.ErrUsernameTaken))
		})

		It("resolves a concurrent duplicate registration in favor of exactly one insert", func() {
			const attempts = 4

			var wg sync.WaitGroup
			errs := make([]error, attempts)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					account := newAccount("race@example.com", "racer"+string(rune('a'+n)))
					errs[n] = repo.Create(ctx, account)
				}(i)
			}
			wg.Wait()

			var successes, conflicts int
			for _, err := range errs {
				switch {
				case err == nil:
					successes++
				default:
					Expect(err).To(MatchError(auth.ErrEmailTaken))
					conflicts++
				}
			}
			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(attempts - 1))
		})
	})

	Describe("GetByEmail", func() {
		It("matches case-insensitively", func() {
			account := newAccount("user@example.com", "someuser")
			Expect(repo.Create(ctx, account)).To(Succeed())

			stored, err := repo.GetByEmail(ctx, "USER@example.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal(account.ID))
		})

		It("returns ErrNotFound for unknown emails", func() {
			_, err := repo.GetByEmail(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("UpdateProfile", func() {
		It("updates only the provided fields", func() {
			account := newAccount("user@example.com", "someuser")
			dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
			account.DateOfBirth = &dob
			Expect(repo.Create(ctx, account)).To(Succeed())

			username := "renamed"
			Expect(repo.UpdateProfile(ctx, account.ID, auth.ProfileUpdate{
				Username: &username,
			})).To(Succeed())

			stored, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Username).To(Equal("renamed"))
			Expect(stored.DateOfBirth).NotTo(BeNil())
			Expect(stored.DateOfBirth.Year()).To(Equal(1990))
		})

		It("rejects a username collision", func() {
			Expect(repo.Create(ctx, newAccount("a@example.com", "first"))).To(Succeed())
			second := newAccount("b@example.com", "second")
			Expect(repo.Create(ctx, second)).To(Succeed())

			taken := "first"
			err := repo.UpdateProfile(ctx, second.ID, auth.ProfileUpdate{Username: &taken})
			Expect(err).To(MatchError(auth.ErrUsernameTaken))
		})
	})

	Describe("UpdatePassword", func() {
		It("replaces the hash", func() {
			account := newAccount("user@example.com", "someuser")
			Expect(repo.Create(ctx, account)).To(Succeed())

			Expect(repo.UpdatePassword(ctx, account.ID, "newhash")).To(Succeed())

			stored, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PasswordHash).To(Equal("newhash"))
		})

		It("returns ErrNotFound for unknown accounts", func() {
			err := repo.UpdatePassword(ctx, ulid.Make(), "newhash")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("MarkVerified", func() {
		It("flips the flag by email", func() {
			account := newAccount("user@example.com", "someuser")
			Expect(repo.Create(ctx, account)).To(Succeed())

			Expect(repo.MarkVerified(ctx, "USER@example.com")).To(Succeed())

			stored, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Verified).To(BeTrue())
		})

		It("returns ErrNotFound for unknown emails", func() {
			err := repo.MarkVerified(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("UpdateLastActive", func() {
		It("stamps the time", func() {
			account := newAccount("user@example.com", "someuser")
			Expect(repo.Create(ctx, account)).To(Succeed())

			stamp := time.Now().UTC().Truncate(time.Microsecond)
			Expect(repo.UpdateLastActive(ctx, account.ID, stamp)).To(Succeed())

			stored, err := repo.GetByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LastActiveAt).NotTo(BeNil())
			Expect(stored.LastActiveAt.Equal(stamp)).To(BeTrue())
		})
	})
})
