package xid

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxIDLength = 64

func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}

// Valid reports whether id is safe to hand to a store: non-empty, bounded,
// and limited to letters, digits, '-' and '_'.
func Valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

var suffixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OrderNumber formats SO-<yyyymmddHHMMSS>-<6 random chars>. It is not unique
// by construction; the store's unique index on orderNumber is authoritative.
func OrderNumber(now time.Time) string {
	buf := make([]byte, 4)
	suffix := ""
	if _, err := rand.Read(buf); err == nil {
		suffix = suffixEncoding.EncodeToString(buf)[:6]
	} else {
		suffix = fmt.Sprintf("%06d", now.Nanosecond()%1000000)
	}
	return fmt.Sprintf("SO-%s-%s", now.UTC().Format("20060102150405"), suffix)
}
