// Package classify decides whether a data store error means the store could
// not be reached (fail over and queue) or that the request itself is wrong
// (surface it to the caller).
package classify

import (
	"context"
	"crypto/tls"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// Class is the outcome of classifying an error.
type Class int

const (
	// Logical errors would fail on any backend: constraint violations,
	// validation, permissions, malformed queries. Unknown errors land here.
	Logical Class = iota
	// Network errors mean the store could not serve the request at all.
	Network
)

func (c Class) String() string {
	if c == Network {
		return "network"
	}
	return "logical"
}

// HTTPStatusError is implemented by errors coming from an HTTP gateway in
// front of the primary.
type HTTPStatusError interface {
	HTTPStatus() int
}

// Classify determines the class of err. It is conservative: anything not
// positively identified as an infrastructure failure is Logical.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Logical
	}

	// Errors the request itself caused, whatever their message says.
	if errors.Is(err, domain.ErrInvalidQuery) ||
		errors.Is(err, domain.ErrUnboundedWrite) ||
		errors.Is(err, domain.ErrMultipleRows) ||
		errors.Is(err, domain.ErrDuplicateKey) ||
		errors.Is(err, domain.ErrNotFound) {
		return Logical
	}

	// Server-reported errors carry a code; trust it over the message.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromSQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromSQLState(string(pqErr.Code))
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return fromSQLiteCode(liteErr.Code())
	}

	if isTransport(err) {
		return Network
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.HTTPStatus() >= 500 {
			return Network
		}
		return Logical
	}

	if matchesSignature(err.Error()) {
		return Network
	}
	return Logical
}

// IsNetwork reports whether err is a Network-class error.
func IsNetwork(err error) bool {
	return Classify(err) == Network
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err)
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ENETDOWN,
}

// fromSQLState maps a PostgreSQL SQLSTATE to a class.
//
//	08xxx  connection exception
//	53xxx  insufficient resources (disk full, out of memory, too many connections)
//	57P01  admin shutdown, 57P02 crash shutdown, 57P03 cannot connect now
func fromSQLState(code string) Class {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"):
		return Network
	case code == "57P01", code == "57P02", code == "57P03":
		return Network
	}
	return Logical
}

func fromSQLiteCode(code int) Class {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOMEM,
		sqlite3.SQLITE_READONLY:
		return Network
	}
	return Logical
}

// signatures are lower-cased fragments of transient infrastructure errors
// that reach us only as text.
var signatures = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"broken pipe",
	"no such host",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"timeout expired",
	"tls handshake",
	"server closed the connection unexpectedly",
	"the database system is starting up",
	"the database system is shutting down",
	"too many clients",
	"failed to connect",
	"conn closed",
	"bad connection",
	"database is closed",
	"unexpected eof",
	"502 bad gateway",
	"503 service unavailable",
	"504 gateway timeout",
	"fetch failed",
}

func matchesSignature(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
