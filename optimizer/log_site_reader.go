package optimizer

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/twitter/condortask/domain"
)

// headerLines bounds how far into a job's stdout the site header is searched for.
const headerLines = 25

// LogSiteReader reads the site from the "GLIDEIN_CMSSite: <site>" header that the job
// wrapper prints at the top of its stdout.
type LogSiteReader struct {
	LogDir string
}

var _ SiteReader = (*LogSiteReader)(nil)

func (r *LogSiteReader) SiteOf(ctx context.Context, sub domain.Submission) (string, error) {
	out, _ := domain.StdLogPaths(r.LogDir, sub.ID)
	f, err := os.Open(out)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", out)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for n := 0; n < headerLines && scanner.Scan(); n++ {
		line := scanner.Text()
		if strings.Contains(line, "GLIDEIN_CMSSite") {
			i := strings.LastIndex(line, ":")
			return strings.TrimSpace(line[i+1:]), nil
		}
		if strings.HasPrefix(line, "hostname") {
			break
		}
	}
	return "", errors.Wrapf(scanner.Err(), "scanning %s", out)
}
