package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrBadResults is returned for malformed result files.
var ErrBadResults = errors.New("malformed results")

// WriteResults emits a run as a plain-text result file: a commented
// header stamping the run ID and mode, then one line per record. The
// format round-trips through ReadResults.
func WriteResults(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# run %s\n", res.RunID)
	fmt.Fprintf(bw, "# mode %s\n", res.Mode)
	for _, rec := range res.Records {
		fmt.Fprintf(bw, "%s %s %.4f %.4f %.6g %.6g %.6g\n",
			rec.Metal, rec.Conductor, rec.Width, rec.Sep,
			rec.Sub, rec.Coup, rec.Shield)
	}
	return bw.Flush()
}

// ReadResults parses a result file back into a Result.
func ReadResults(r io.Reader) (*Result, error) {
	res := &Result{}
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fields := strings.Fields(line)
			if len(fields) == 3 && fields[1] == "run" {
				res.RunID = fields[2]
			}
			if len(fields) == 3 && fields[1] == "mode" {
				res.Mode = fields[2]
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 7 {
			return nil, fmt.Errorf("%w: line %d: want 7 fields, got %d", ErrBadResults, lineno, len(fields))
		}
		rec := Record{Metal: fields[0], Conductor: fields[1]}
		vals := make([]float64, 5)
		for i, f := range fields[2:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrBadResults, lineno, err)
			}
			vals[i] = v
		}
		rec.Width, rec.Sep = vals[0], vals[1]
		rec.Sub, rec.Coup, rec.Shield = vals[2], vals[3], vals[4]
		res.Records = append(res.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
