// Package dbtest builds small on-disk sqlite fixtures for package tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE Artist (
	ArtistId INTEGER PRIMARY KEY,
	Name TEXT NOT NULL
);
CREATE TABLE Album (
	AlbumId INTEGER PRIMARY KEY,
	Title TEXT NOT NULL,
	ArtistId INTEGER NOT NULL REFERENCES Artist(ArtistId)
);
INSERT INTO Artist (ArtistId, Name) VALUES (1, 'AC/DC'), (2, 'Accept'), (3, 'Aerosmith'), (4, 'Alanis Morissette');
INSERT INTO Album (AlbumId, Title, ArtistId) VALUES
	(1, 'For Those About To Rock We Salute You', 1),
	(2, 'Balls to the Wall', 2),
	(3, 'Restless and Wild', 2),
	(4, 'Let There Be Rock', 1);
`

// ChinookPath creates a two-table music catalog in a temp dir and returns its path.
func ChinookPath(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chinook.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(schema)
	require.NoError(t, err)

	return path
}

// Chinook opens the fixture with the pure-Go sqlite driver.
func Chinook(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", ChinookPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}
