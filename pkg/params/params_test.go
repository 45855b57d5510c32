package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

func validParams() Parameters {
	return Parameters{
		Username:      "hcpuser",
		Password:      "secret",
		Server:        "http://db.example.org",
		Subject:       subject.Info{Project: "HCP_1200", Subject: "100307", Classifier: "3T"},
		WalltimeHours: "48",
		MemoryGB:      "32",
		PutServer:     "http://put1.example.org",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Parameters)
		want   string
	}{
		{"missing username", func(p *Parameters) { p.Username = "" }, "username"},
		{"missing put server", func(p *Parameters) { p.PutServer = " " }, "put_server"},
		{"missing subject", func(p *Parameters) { p.Subject = subject.Info{} }, "subject"},
		{"missing walltime", func(p *Parameters) { p.WalltimeHours = "" }, "walltime_hours"},
		{"blank memory", func(p *Parameters) { p.MemoryGB = "  " }, "memory_gb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ResourceValuesNotInterpreted(t *testing.T) {
	for _, v := range []struct{ walltime, mem string }{{"0", "16"}, {"2.5", "2.5"}, {"048", "032"}} {
		p := validParams()
		p.WalltimeHours, p.MemoryGB = v.walltime, v.mem
		assert.NoError(t, p.Validate(), "%s/%s", v.walltime, v.mem)
	}
}

func TestServerName(t *testing.T) {
	tests := map[string]string{
		"http://db.example.org":           "db.example.org",
		"https://db.example.org:8080/xyz": "db.example.org:8080",
		"db.example.org":                  "db.example.org",
		" http://put1.example.org/ ":      "put1.example.org",
	}
	for in, want := range tests {
		assert.Equal(t, want, ServerName(in), in)
	}
}
