// Package script composes the PBS job scripts for a submission and writes
// them to disk as owner/group executables.
package script

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ccfpipelines/icafixsubmit/pkg/groups"
	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

// PipelineName is the pipeline these scripts drive.
const PipelineName = "MultiRunIcaFixProcessing"

// Kind identifies which job a script performs.
type Kind string

const (
	KindGetData     Kind = "GET_DATA"
	KindProcessData Kind = "PROCESS_DATA"
	KindPutData     Kind = "PUT_DATA"
)

// Resource requests for the fixed-size jobs.
const (
	getDataResources = "nodes=1:ppn=1,walltime=4:00:00,mem=4gb"
	putDataResources = "nodes=1:ppn=1,walltime=12:00:00,mem=12gb"

	workNodeCount = 1
	workPPN       = 1
)

// Container-side mount points used by the processing job.
const (
	controlMount  = "/opt/xnat_pbs_jobs_control"
	gradientMount = "/export/HCP/gradient_coefficient_files"
	qunexRunner   = controlMount + "/run_qunex.sh"
)

// JobScript is a generated script and where it belongs on disk.
type JobScript struct {
	Kind    Kind
	Path    string
	Content string
}

// Environment is the site configuration the scripts are composed from.
type Environment struct {
	SetupScriptPath       string
	DatabaseName          string
	SingularityVersion    string
	ArchiveRoot           string
	SingularityBindPath   string
	XnatContainerPath     string
	PipelineContainerPath string
	GradientCoeffPath     string
	ControlFolder         string
	GetDataProgramPath    string
	PutDataProgramPath    string
}

// Composer builds job script text from an Environment.
type Composer struct {
	env Environment
}

func NewComposer(env Environment) *Composer {
	return &Composer{env: env}
}

// Path returns the fixed on-disk name of a script kind for a subject.
func Path(workDir string, info subject.Info, kind Kind) string {
	return filepath.Join(workDir, fmt.Sprintf("%s.%s.%s_job.sh", info.Session(), PipelineName, kind))
}

type builder struct {
	strings.Builder
}

func (b *builder) line(parts ...string) {
	for _, p := range parts {
		b.WriteString(p)
	}
	b.WriteString("\n")
}

// continued writes a flag line followed by a shell line continuation.
func (b *builder) continued(s string) {
	b.line(s, " \\")
}

func (b *builder) streams(workDir string) {
	b.line("#PBS -o ", workDir)
	b.line("#PBS -e ", workDir)
}

// GetDataScript composes the data-staging job.
func (c *Composer) GetDataScript(p params.Parameters, workDir string) JobScript {
	var b builder
	b.line("#!/bin/bash")
	b.line("#PBS -l ", getDataResources)
	b.streams(workDir)
	b.line()
	b.line("source ", c.env.SetupScriptPath, " ", c.env.DatabaseName)
	b.line("module load ", c.env.SingularityVersion)
	b.line()
	b.continued("singularity exec -B " + c.env.ArchiveRoot + "," + c.env.SingularityBindPath +
		" " + c.env.XnatContainerPath + " " + c.env.GetDataProgramPath)
	b.continued("  --project=" + p.Subject.Project)
	b.continued("  --subject=" + p.Subject.Subject)
	b.continued("  --classifier=" + p.Subject.Classifier)
	b.line("  --working-dir=", workDir)
	b.line()

	return JobScript{Kind: KindGetData, Path: Path(workDir, p.Subject, KindGetData), Content: b.String()}
}

// ProcessResourcesLine returns the PBS resource directive for the processing job.
// walltimeHours and memoryGB are embedded verbatim.
func ProcessResourcesLine(walltimeHours, memoryGB string) string {
	return "#PBS -l nodes=" + strconv.Itoa(workNodeCount) +
		":ppn=" + strconv.Itoa(workPPN) +
		",walltime=" + walltimeHours + ":00:00" +
		",vmem=" + memoryGB + "gb"
}

// ProcessDataScript composes the pipeline job. The bold lists are rendered
// from groups.
func (c *Composer) ProcessDataScript(p params.Parameters, workDir string, groupNames []string) JobScript {
	binds := []string{
		c.env.ControlFolder + ":" + controlMount,
		c.env.ArchiveRoot,
		c.env.SingularityBindPath,
		c.env.GradientCoeffPath + ":" + gradientMount,
	}

	var b builder
	b.line(ProcessResourcesLine(p.WalltimeHours, p.MemoryGB))
	b.streams(workDir)
	b.line()
	b.line("module load ", c.env.SingularityVersion)
	b.line()
	b.continued("singularity exec -B " + strings.Join(binds, ",") + " " + c.env.PipelineContainerPath + " " + qunexRunner)
	b.continued("  --studyfolder=" + workDir + "/" + p.Subject.Session())
	b.continued("  --subjects=" + p.Subject.Session())
	b.continued("  --overwrite=yes")
	b.continued("  --icafixbolds=" + groups.Expand(groupNames, true))
	b.continued("  --reapplyfixbolds=" + groups.Expand(groupNames, false))
	b.line("  --hcppipelineprocess=", PipelineName)

	return JobScript{Kind: KindProcessData, Path: Path(workDir, p.Subject, KindProcessData), Content: b.String()}
}

// PutDataScript composes the job that uploads results to the put server.
func (c *Composer) PutDataScript(p params.Parameters, workDir string) JobScript {
	var b builder
	b.line("#!/bin/bash")
	b.line("#PBS -l ", putDataResources)
	b.streams(workDir)
	b.line()
	b.line("source ", c.env.SetupScriptPath, " ", c.env.DatabaseName)
	b.line()
	b.continued(c.env.PutDataProgramPath)
	b.continued("  --leave-subject-id")
	b.continued("  --user=" + p.Username)
	b.continued("  --password=" + p.Password)
	b.continued("  --server=" + params.ServerName(p.PutServer))
	b.continued("  --project=" + p.Subject.Project)
	b.continued("  --subject=" + p.Subject.Subject)
	b.continued("  --session=" + p.Subject.Session())
	b.continued("  --working-dir=" + workDir)
	b.continued("  --resource-suffix=" + p.OutputResourceSuffix)
	b.continued("  --reason=" + PipelineName)
	if p.CleanOutputFirst {
		b.continued("  --clean-output-resource-first")
	}
	b.line("  --use-http")
	b.line()

	return JobScript{Kind: KindPutData, Path: Path(workDir, p.Subject, KindPutData), Content: b.String()}
}
