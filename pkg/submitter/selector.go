package submitter

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// ErrNoPutServers is returned when the put server list is empty.
var ErrNoPutServers = errors.New("put server list is empty")

// ServerSelector chooses the upload server for one submission.
type ServerSelector interface {
	Select(servers []string) (string, error)
}

// RandomSelector picks uniformly at random. IntN defaults to math/rand/v2.
type RandomSelector struct {
	IntN func(n int) int
}

func (r RandomSelector) Select(servers []string) (string, error) {
	candidates := nonEmpty(servers)
	if len(candidates) == 0 {
		return "", ErrNoPutServers
	}
	intN := r.IntN
	if intN == nil {
		intN = rand.IntN
	}
	return candidates[intN(len(candidates))], nil
}

// FirstSelector always picks the first listed server.
type FirstSelector struct{}

func (FirstSelector) Select(servers []string) (string, error) {
	candidates := nonEmpty(servers)
	if len(candidates) == 0 {
		return "", ErrNoPutServers
	}
	return candidates[0], nil
}

func nonEmpty(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
