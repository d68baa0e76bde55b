// Package store persists person identities in PostgreSQL with pgvector, so
// repeated sorting runs can recognize the same people and keep their names.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/facesort/internal/types"
)

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// Person is one registered identity: a running average of every face that
// matched it, plus a user-visible name.
type Person struct {
	ID        int
	Name      string
	Count     int // faces folded into the embedding so far
	CreatedAt time.Time
}

// Run records one sorting session.
type Run struct {
	ID         uuid.UUID
	InputDir   string
	OutputDir  string
	Images     int
	Faces      int
	Clusters   int
	Noise      int
	Eps        float64
	MinPts     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS people (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			embedding VECTOR(%d) NOT NULL,
			face_count INT DEFAULT 1,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS sort_runs (
			id UUID PRIMARY KEY,
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			images INT NOT NULL DEFAULT 0,
			faces INT NOT NULL DEFAULT 0,
			clusters INT NOT NULL DEFAULT 0,
			noise INT NOT NULL DEFAULT 0,
			eps DOUBLE PRECISION NOT NULL,
			min_pts INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
	`, types.EmbeddingDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%f", v)
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads the "[1.0,2.0,...]" text form back into a float slice.
func parseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad vector component %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// FindClosestPerson searches for the nearest registered person by Euclidean
// distance. It returns the match's id and distance, or id -1 when nobody is
// within the threshold.
func (s *Store) FindClosestPerson(ctx context.Context, vec []float64, threshold float64) (int, float64, error) {
	vecStr := vecToString(vec)
	// <-> is the L2 distance operator in pgvector, matching the metric the
	// clustering engine uses.
	query := `SELECT id, embedding <-> $1::vector FROM people WHERE embedding <-> $1::vector < $2 ORDER BY embedding <-> $1::vector ASC LIMIT 1`

	var id int
	var dist float64
	err := s.conn.QueryRow(ctx, query, vecStr, threshold).Scan(&id, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, 0, nil // No match found
	}
	if err != nil {
		return 0, 0, err
	}
	return id, dist, nil
}

// CreatePerson registers a new person from a cluster centroid and returns its ID.
func (s *Store) CreatePerson(ctx context.Context, vec []float64, count int) (int, error) {
	vecStr := vecToString(vec)
	var id int
	// We use a temporary unique name to avoid collisions before we know the ID
	tempName := fmt.Sprintf("pending-%d", time.Now().UnixNano())

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// 1. Insert with placeholder
	err = tx.QueryRow(ctx, "INSERT INTO people (name, embedding, face_count) VALUES ($1, $2::vector, $3) RETURNING id", tempName, vecStr, count).Scan(&id)
	if err != nil {
		return 0, err
	}

	// 2. Update name to "Person <ID>"
	finalName := fmt.Sprintf("Person %d", id)
	_, err = tx.Exec(ctx, "UPDATE people SET name = $1 WHERE id = $2", finalName, id)
	if err != nil {
		return 0, err
	}

	return id, tx.Commit(ctx)
}

// UpdatePerson folds count new faces with centroid newVec into an existing
// person's embedding as a weighted average.
func (s *Store) UpdatePerson(ctx context.Context, id int, newVec []float64, count int) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// FOR UPDATE locks the row to prevent race conditions if multiple runs update the same ID
	var oldVecStr string
	var oldCount int
	err = tx.QueryRow(ctx, "SELECT embedding::text, face_count FROM people WHERE id = $1 FOR UPDATE", id).Scan(&oldVecStr, &oldCount)
	if err != nil {
		return err
	}

	oldVec, err := parseVector(oldVecStr)
	if err != nil {
		return err
	}

	finalVec := make([]float64, types.EmbeddingDim)
	totalCount := float64(oldCount + count)
	for i := range finalVec {
		if i < len(oldVec) && i < len(newVec) {
			finalVec[i] = (oldVec[i]*float64(oldCount) + newVec[i]*float64(count)) / totalCount
		}
	}

	_, err = tx.Exec(ctx, "UPDATE people SET embedding = $1::vector, face_count = $2 WHERE id = $3", vecToString(finalVec), int(totalCount), id)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetPerson fetches one person by id.
func (s *Store) GetPerson(ctx context.Context, id int) (Person, error) {
	var p Person
	err := s.conn.QueryRow(ctx, "SELECT id, name, face_count, created_at FROM people WHERE id = $1", id).
		Scan(&p.ID, &p.Name, &p.Count, &p.CreatedAt)
	return p, err
}

// GetPersonVectors fetches the stored embeddings for the given ids.
func (s *Store) GetPersonVectors(ctx context.Context, ids []int) (map[int][]float64, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, embedding::text FROM people WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vectors := make(map[int][]float64)
	for rows.Next() {
		var id int
		var vecStr string
		if err := rows.Scan(&id, &vecStr); err != nil {
			return nil, err
		}
		vec, err := parseVector(vecStr)
		if err != nil {
			return nil, err
		}
		vectors[id] = vec
	}
	return vectors, rows.Err()
}

// ListPeople returns every registered person, oldest first.
func (s *Store) ListPeople(ctx context.Context) ([]Person, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, name, face_count, created_at FROM people ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Count, &p.CreatedAt); err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// RenamePerson updates the name of a registered person.
func (s *Store) RenamePerson(ctx context.Context, id int, newName string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE people SET name = $1 WHERE id = $2", newName, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no person with id %d", id)
	}
	return nil
}

// BeginRun records the start of a sorting session and returns its id.
func (s *Store) BeginRun(ctx context.Context, inputDir, outputDir string, eps float64, minPts int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sort_runs (id, input_dir, output_dir, eps, min_pts, started_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, id.String(), inputDir, outputDir, eps, minPts)
	return id, err
}

// FinishRun closes out a sorting session with its final counts.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, images, faces, clusters, noise int) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE sort_runs
		SET images = $2, faces = $3, clusters = $4, noise = $5, finished_at = NOW()
		WHERE id = $1
	`, id.String(), images, faces, clusters, noise)
	return err
}

// ListRuns returns the most recent sorting sessions, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, input_dir, output_dir, images, faces, clusters, noise, eps, min_pts, started_at, finished_at
		FROM sort_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var idStr string
		if err := rows.Scan(&idStr, &r.InputDir, &r.OutputDir, &r.Images, &r.Faces, &r.Clusters, &r.Noise, &r.Eps, &r.MinPts, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS sort_runs CASCADE;
		DROP TABLE IF EXISTS people CASCADE;
	`)
	return err
}
