package db

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
)

// MissingTablesError names requested tables that do not exist.
type MissingTablesError struct {
	Names []string
}

func (e *MissingTablesError) Error() string {
	names := append([]string(nil), e.Names...)
	sort.Strings(names)
	return fmt.Sprintf("table_names {%s} not found in database", strings.Join(names, ", "))
}

// Classify wraps driver errors that mean the database cannot be reached or refused our
// credentials with sqlagent.ErrConnectivity / sqlagent.ErrAuthentication. Other errors
// (syntax, unknown column, timeouts) are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if sqlagent.IsFatal(err) {
		return err
	}

	switch {
	case isAuthError(err):
		return fmt.Errorf("%w: %w", sqlagent.ErrAuthentication, err)
	case isConnectivityError(err):
		return fmt.Errorf("%w: %w", sqlagent.ErrConnectivity, err)
	}
	return err
}

func isAuthError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "28" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1045 || myErr.Number == 1698) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication failed")
}

func isConnectivityError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "no such host", "unable to open database file", "broken pipe", "database is closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
