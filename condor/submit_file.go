package condor

import (
	"io"
	"path"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

var submitTemplate = template.Must(template.New("submit").Parse(`universe={{.Universe}}
+DESIRED_Sites="{{.Sites}}"
executable={{.Executable}}
arguments={{.Arguments}}
transfer_executable=True
transfer_input_files={{.InputFiles}}
transfer_output_files = ""
+Owner = undefined
log={{.LogDir}}/std_logs/1e.$(Cluster).$(Process).log
output={{.LogDir}}/std_logs/1e.$(Cluster).$(Process).out
error={{.LogDir}}/std_logs/1e.$(Cluster).$(Process).err
notification=Never
should_transfer_files = YES
when_to_transfer_output = ON_EXIT
{{- if .Proxy}}
x509userproxy={{.Proxy}}
{{- end}}
{{- range .Labels}}
+{{index . 0}}="{{index . 1}}"
{{- end}}
queue
`))

type submitParams struct {
	Universe   string
	Sites      string
	Executable string
	Arguments  string
	InputFiles string
	LogDir     string
	Proxy      string
	Labels     [][2]string
}

// WriteSubmitFile renders req as a condor_submit description.
func WriteSubmitFile(w io.Writer, req SubmitRequest, proxy string) error {
	if req.Executable == "" || req.LogDir == "" {
		return errors.New("submit request needs an executable and a log dir")
	}
	p := submitParams{
		Universe:   req.Universe,
		Sites:      req.Sites,
		Executable: req.Executable,
		Arguments:  strings.Join(req.Arguments, " "),
		InputFiles: strings.Join(req.InputFiles, ","),
		LogDir:     path.Clean(req.LogDir),
		Labels:     sortedLabels(req.Labels),
	}
	if p.Universe == "" {
		p.Universe = DefaultUniverse
	}
	if p.Sites == "" {
		p.Sites = DefaultSites
	}
	// the local UAF pool takes no proxy
	if p.Sites != "UAF" {
		p.Proxy = proxy
	}
	return errors.Wrap(submitTemplate.Execute(w, p), "render submit file")
}
