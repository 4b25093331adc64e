package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/dmora/buildlog"
)

// renderer prints command results as text or JSON.
type renderer struct {
	w    io.Writer
	json bool

	id      *color.Color
	errText *color.Color
	warn    *color.Color
	dim     *color.Color
}

func newRenderer(w io.Writer, jsonOut, useColor bool) *renderer {
	r := &renderer{
		w:       w,
		json:    jsonOut,
		id:      color.New(color.FgCyan),
		errText: color.New(color.FgRed, color.Bold),
		warn:    color.New(color.FgYellow),
		dim:     color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{r.id, r.errText, r.warn, r.dim} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *renderer) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summary colors a node summary by severity.
func (r *renderer) summary(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return r.errText.Sprint(s)
	case strings.Contains(lower, "warning"):
		return r.warn.Sprint(s)
	}
	return s
}

func (r *renderer) nodeLine(n buildlog.Node) string {
	var b strings.Builder
	b.WriteString(r.id.Sprintf("#%d", n.ID))
	b.WriteByte(' ')
	b.WriteString(r.summary(n.Summary))
	if n.Abridged {
		b.WriteString(r.dim.Sprint(" [abridged]"))
	}
	if len(n.Children) > 0 {
		more := ""
		if !n.FullyLoaded {
			more = "+"
		}
		b.WriteString(r.dim.Sprintf(" (%d%s children)", len(n.Children), more))
	}
	return b.String()
}

func (r *renderer) node(n buildlog.Node) error {
	if r.json {
		return r.encode(n)
	}
	_, err := fmt.Fprintln(r.w, r.nodeLine(n))
	return err
}

func (r *renderer) nodes(ns []buildlog.Node) error {
	if r.json {
		if ns == nil {
			ns = []buildlog.Node{}
		}
		return r.encode(ns)
	}
	if len(ns) == 0 {
		_, err := fmt.Fprintln(r.w, "no nodes")
		return err
	}
	for _, n := range ns {
		if _, err := fmt.Fprintln(r.w, r.nodeLine(n)); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) text(id buildlog.NodeID, text string) error {
	if r.json {
		return r.encode(struct {
			NodeID   buildlog.NodeID `json:"nodeId"`
			FullText string          `json:"fullText"`
		}{id, text})
	}
	_, err := fmt.Fprintln(r.w, text)
	return err
}

func (r *renderer) results(rs []buildlog.SearchResult) error {
	if r.json {
		if rs == nil {
			rs = []buildlog.SearchResult{}
		}
		return r.encode(rs)
	}
	if len(rs) == 0 {
		_, err := fmt.Fprintln(r.w, "no matches")
		return err
	}
	for _, res := range rs {
		path := make([]string, 0, len(res.Ancestors)+1)
		for _, a := range res.Ancestors {
			path = append(path, fmt.Sprintf("%d", a))
		}
		path = append(path, r.id.Sprintf("%d", res.NodeID))
		if _, err := fmt.Fprintln(r.w, strings.Join(path, r.dim.Sprint(" > "))); err != nil {
			return err
		}
	}
	return nil
}

// tree prints t indented, one node per line.
func (r *renderer) tree(t *treeNode) error {
	if r.json {
		return r.encode(t)
	}
	var walk func(t *treeNode, prefix string, last, root bool) error
	walk = func(t *treeNode, prefix string, last, root bool) error {
		branch, next := "", ""
		if !root {
			branch, next = "├── ", "│   "
			if last {
				branch, next = "└── ", "    "
			}
		}
		line := prefix + r.dim.Sprint(branch) + r.nodeLine(t.Node)
		if t.More > 0 {
			line += r.dim.Sprintf(" …%d more", t.More)
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
		for i, c := range t.Kids {
			if err := walk(c, prefix+r.dim.Sprint(next), i == len(t.Kids)-1, false); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t, "", true, true)
}

func (r *renderer) stats(s buildlog.ProcessStats) error {
	if r.json {
		return r.encode(s)
	}
	_, err := fmt.Fprintf(r.w, "pid %d  rss %.1f MiB  cpu %.1f%%  threads %d  up %s\n",
		s.PID, float64(s.RSSBytes)/(1<<20), s.CPUPercent, s.NumThreads,
		time.Since(s.CreateTime).Round(time.Second))
	return err
}

// event prints a lifecycle or watch notice to the writer.
func (r *renderer) event(format string, args ...any) error {
	if r.json {
		return r.encode(struct {
			Event string    `json:"event"`
			At    time.Time `json:"at"`
		}{fmt.Sprintf(format, args...), time.Now()})
	}
	_, err := fmt.Fprintln(r.w, r.dim.Sprintf("-- "+format, args...))
	return err
}
