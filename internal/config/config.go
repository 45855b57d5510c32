// Package config loads icafixsubmit settings from defaults, an optional YAML
// file and the environment.
//
// Precedence, lowest first: defaults, config file, environment, runtime
// overrides. The XNAT_PBS_JOBS_* variables keep their historical names;
// everything else is read from ICAFIXSUBMIT_* variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/ccfpipelines/icafixsubmit/pkg/archive"
)

// AppName names the config and data directories.
const AppName = "icafixsubmit"

// EnvPrefix prefixes every non-legacy environment variable.
const EnvPrefix = "ICAFIXSUBMIT"

// Legacy environment variables shared with the rest of the job tooling.
const (
	EnvXnatServer    = "XNAT_PBS_JOBS_XNAT_SERVER"
	EnvControl       = "XNAT_PBS_JOBS_CONTROL"
	EnvPutServerList = "XNAT_PBS_JOBS_PUT_SERVER_LIST"
	EnvJobsHome      = "XNAT_PBS_JOBS"
	EnvBuildDir      = "XNAT_PBS_JOBS_BUILD_DIR"
	EnvArchiveRoot   = "XNAT_PBS_JOBS_ARCHIVE_ROOT"
)

// ErrInvalidConfig indicates required settings are missing or malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the decoded configuration.
type Config struct {
	// Server is the tracking server host; "http://" is prepended when no
	// scheme is given.
	Server        string   `mapstructure:"server"`
	ControlFolder string   `mapstructure:"control_folder"`
	PutServers    []string `mapstructure:"put_servers"`

	JobsHome    string `mapstructure:"jobs_home"`
	BuildHome   string `mapstructure:"build_home"`
	ArchiveRoot string `mapstructure:"archive_root"`

	// Timeout bounds one whole command invocation.
	Timeout time.Duration `mapstructure:"timeout"`

	Setup       SetupConfig       `mapstructure:"setup"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	History     HistoryConfig     `mapstructure:"history"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SetupConfig describes the cluster environment the job scripts run in.
type SetupConfig struct {
	Script               string `mapstructure:"script"`
	Database             string `mapstructure:"database"`
	SingularityVersion   string `mapstructure:"singularity_version"`
	BindPath             string `mapstructure:"bind_path"`
	XnatContainer        string `mapstructure:"xnat_container"`
	PipelineContainer    string `mapstructure:"pipeline_container"`
	GradientCoefficients string `mapstructure:"gradient_coefficients"`
	GetDataProgram       string `mapstructure:"get_data_program"`
	PutDataProgram       string `mapstructure:"put_data_program"`
}

type SchedulerConfig struct {
	Qsub  string `mapstructure:"qsub"`
	Qstat string `mapstructure:"qstat"`

	// QueriesPerSecond paces qstat calls made by the run status guard.
	// Zero disables pacing.
	QueriesPerSecond float64 `mapstructure:"queries_per_second"`
}

type RegistryConfig struct {
	Dir string `mapstructure:"dir"`
}

// HistoryConfig locates the SQL attempt log. URL takes precedence over Path
// and needs a cgo build.
type HistoryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type CredentialsConfig struct {
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ServerURL returns Server with an http scheme when none is present.
func (c *Config) ServerURL() string {
	s := strings.TrimSpace(c.Server)
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}

// Validate reports every missing required setting, naming the variable that
// supplies it.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Server) == "" {
		missing = append(missing, EnvXnatServer)
	}
	if strings.TrimSpace(c.ControlFolder) == "" {
		missing = append(missing, EnvControl)
	}
	if len(c.PutServers) == 0 {
		missing = append(missing, EnvPutServerList)
	}
	if strings.TrimSpace(c.JobsHome) == "" {
		missing = append(missing, EnvJobsHome)
	}
	if strings.TrimSpace(c.BuildHome) == "" {
		missing = append(missing, EnvBuildDir)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if c.Scheduler.QueriesPerSecond < 0 {
		return fmt.Errorf("%w: scheduler.queries_per_second must be >= 0", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// defaults is applied before any file or environment value.
func defaults() map[string]any {
	return map[string]any{
		"jobs_home":                    "/home/HCPpipe/pipeline_tools/xnat_pbs_jobs",
		"build_home":                   "/HCP/hcpdb/build_ssd/chpc/BUILD",
		"archive_root":                 archive.DefaultRoot,
		"timeout":                      "10m",
		"setup.script":                 "/home/HCPpipe/pipeline_tools/xnat_pbs_jobs_control/xnat_pbs_setup",
		"setup.database":               "intradb",
		"setup.singularity_version":    "singularity-3.8.2",
		"setup.bind_path":              "/HCP",
		"setup.xnat_container":         "/export/HCP/qunex-hcp/singularity/xnat.simg",
		"setup.pipeline_container":     "/export/HCP/qunex-hcp/singularity/qunex_suite.simg",
		"setup.gradient_coefficients":  "/export/HCP/gradient_coefficient_files",
		"setup.get_data_program":       "/pipeline_tools/xnat_pbs_jobs/lib/ccf/get_cinab_style_data.py",
		"setup.put_data_program":       "/pipeline_tools/xnat_pbs_jobs/WorkingDirPut/XNAT_working_dir_put.sh",
		"scheduler.qsub":               "qsub",
		"scheduler.qstat":              "qstat",
		"scheduler.queries_per_second": 5.0,
		"registry.dir":                 filepath.Join(gfconfig.GetAppDataDir(AppName), "submissions"),
		"history.enabled":              true,
		"history.path":                 filepath.Join(gfconfig.GetAppDataDir(AppName), "history.db"),
		"history.url":                  "",
		"history.auth_token":           "",
		"credentials.file":             "",
		"logging.level":                "info",
	}
}
