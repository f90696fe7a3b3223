package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when BRANDLINK_DATABASE_URL is set. They apply
// the real db/schema.sql into a throwaway schema, so the store's SQL is
// exercised against the exact DDL a deployment runs.

func TestPostgresRegistry_ProfileRoundTrip(t *testing.T) {
	t.Parallel()

	pool := mustOpenRegistryTestPool(t)
	defer pool.Close()

	schema := mustApplyRegistrySchema(t, pool)
	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	age := 27
	created, err := store.CreateProfile(ctx, Profile{
		Kind:        KindAmbassador,
		DisplayName: "mira",
		Bio:         "travel creator",
		Location:    "Lisbon",
		Age:         &age,
		Skills:      []string{"video", "photo"},
		Email:       "mira@example.com",
		Simulated:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := store.GetProfile(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, KindAmbassador, got.Kind)
	require.Equal(t, "mira", got.DisplayName)
	require.Equal(t, []string{"video", "photo"}, got.Skills)
	require.NotNil(t, got.Age)
	require.Equal(t, 27, *got.Age)
	require.True(t, got.Simulated)
	require.False(t, got.Preview)
	require.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	got.DisplayName = "mira v2"
	got.Simulated = false
	got.Preview = true
	updated, err := store.UpdateProfile(ctx, got)
	require.NoError(t, err)
	require.Equal(t, "mira v2", updated.DisplayName)
	require.False(t, updated.Simulated)
	require.True(t, updated.Preview)

	feed, err := store.ListAmbassadors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, created.ID, feed[0].ID)

	_, err = store.GetProfile(ctx, "missing")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestPostgresRegistry_ConcurrentReciprocalLikes_SingleMatch(t *testing.T) {
	t.Parallel()

	pool := mustOpenRegistryTestPool(t)
	defer pool.Close()

	schema := mustApplyRegistrySchema(t, pool)
	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	brand, err := store.CreateProfile(ctx, Profile{Kind: KindBrand, DisplayName: "acme"})
	require.NoError(t, err)
	amb, err := store.CreateProfile(ctx, Profile{Kind: KindAmbassador, DisplayName: "mira"})
	require.NoError(t, err)

	const n = 8

	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan LikeResult, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		sender, receiver := brand.ID, amb.ID
		if i%2 == 1 {
			sender, receiver = amb.ID, brand.ID
		}
		go func() {
			defer wg.Done()
			res, err := store.Like(ctx, sender, receiver)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	m, ok, err := store.MatchBetween(ctx, brand.ID, amb.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, brand.ID, m.BrandID)
	require.Equal(t, amb.ID, m.AmbassadorID)

	// Every caller that observed a match observed the same one.
	for res := range results {
		if res.Match != nil {
			require.Equal(t, m.ID, res.Match.ID)
		}
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM `+pgIdent(schema, "matches")).Scan(&count))
	require.Equal(t, 1, count)
}

func TestPostgresRegistry_Like_IdempotentAndOneWay(t *testing.T) {
	t.Parallel()

	pool := mustOpenRegistryTestPool(t)
	defer pool.Close()

	schema := mustApplyRegistrySchema(t, pool)
	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	brand, err := store.CreateProfile(ctx, Profile{Kind: KindBrand, DisplayName: "acme"})
	require.NoError(t, err)
	amb, err := store.CreateProfile(ctx, Profile{Kind: KindAmbassador, DisplayName: "mira"})
	require.NoError(t, err)

	res, err := store.Like(ctx, brand.ID, amb.ID)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.Nil(t, res.Match)

	// Repeating the same one-way like changes nothing.
	res, err = store.Like(ctx, brand.ID, amb.ID)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.Nil(t, res.Match)

	res, err = store.Like(ctx, amb.ID, brand.ID)
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.NotNil(t, res.Match)
	matchID := res.Match.ID

	// Liking after the match exists reports the match without re-forming it.
	res, err = store.Like(ctx, brand.ID, amb.ID)
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.NotNil(t, res.Match)
	require.Equal(t, matchID, res.Match.ID)

	listed, err := store.ListMatches(ctx, brand.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, matchID, listed[0].ID)
}

// ---- test helpers ----

func registryRandomHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func mustOpenRegistryTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BRANDLINK_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BRANDLINK_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	c, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

// mustApplyRegistrySchema installs db/schema.sql into a fresh throwaway
// schema and registers a cleanup that drops it.
func mustApplyRegistrySchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "schema.sql"))
	require.NoError(t, err)

	schema := "brandlink_it_" + strings.ToLower(registryRandomHex(8))
	ddl := strings.ReplaceAll(string(raw), "brandlink", schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	return schema
}
