package tracker

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

type (
	// Status is a snapshot of the player for status lines and logs.
	Status struct {
		Voices     int
		Releasing  int
		Pool       int
		AudioBus   int32
		ControlBus int32
		Recording  bool
	}

	// StatusFormatter renders a Status with a text/template. The sprig
	// functions are available in the template.
	StatusFormatter struct {
		tmpl *template.Template
	}
)

const DefaultStatusTemplate = `voices {{.Voices}} ({{.Releasing}} releasing) pool {{.Pool}} buses a{{.AudioBus}}/c{{.ControlBus}}{{if .Recording}} {{"rec" | upper}}{{end}}`

func (p *Player) Status() Status {
	s := Status{
		Voices:    p.alloc.NumVoices(),
		Pool:      p.alloc.PoolSize(),
		Recording: p.recording != nil,
	}
	for _, v := range p.alloc.voices {
		if v.Releasing {
			s.Releasing++
		}
	}
	s.AudioBus, s.ControlBus = p.alloc.Watermarks()
	return s
}

func NewStatusFormatter(text string) (*StatusFormatter, error) {
	if text == "" {
		text = DefaultStatusTemplate
	}
	tmpl, err := template.New("status").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf(`could not parse status template: %w`, err)
	}
	return &StatusFormatter{tmpl: tmpl}, nil
}

func (f *StatusFormatter) Format(s Status) (string, error) {
	var b strings.Builder
	if err := f.tmpl.Execute(&b, s); err != nil {
		return "", fmt.Errorf(`could not execute status template: %w`, err)
	}
	return b.String(), nil
}
