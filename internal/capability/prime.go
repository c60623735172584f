package capability

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"vmux/internal/session"
)

// Prime answers primality queries. Each input line holds one decimal
// integer; each answer line is "N prime", "N composite" or
// "N invalid".
type Prime struct{}

func (p *Prime) Handle(ctx context.Context, sess *session.Session) error {
	defer closeOnCancel(ctx, sess)()

	sc := bufio.NewScanner(sess.Conn)
	w := bufio.NewWriter(sess.Conn)
	answered := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(w, Classify(line))
		answered++
		// answer each query before blocking on the next line
		if err := w.Flush(); err != nil {
			return fmt.Errorf("prime: %w", err)
		}
	}
	if err := sc.Err(); err != nil && !isEOF(err) {
		return fmt.Errorf("prime: %w", err)
	}
	sess.Logger.Verbose("answered %d queries", answered)
	return sess.CloseWrite()
}

// Classify returns the answer line for one query.
func Classify(query string) string {
	n, err := strconv.ParseUint(query, 10, 64)
	if err != nil {
		return query + " invalid"
	}
	if IsPrime(n) {
		return query + " prime"
	}
	return query + " composite"
}

// IsPrime reports whether n is prime. Baillie-PSW is exact below 2^64.
func IsPrime(n uint64) bool {
	return new(big.Int).SetUint64(n).ProbablyPrime(0)
}
