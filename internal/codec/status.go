// Package codec converts the physical encodings found in stored submission rows
// into their logical values and back.
//
// Status has been written three ways over the life of the data: a native
// boolean, the strings "TRUE"/"FALSE", and a localized two-value label such as
// "Sudah Mengerjakan" / "Belum Mengerjakan". Old rows are never migrated, so every
// read goes through the same ordered list of rules.
package codec

import (
	"fmt"
	"strings"
)

// StatusEncoding names the physical representation used when writing status.
type StatusEncoding string

const (
	EncodingBool      StatusEncoding = "bool"
	EncodingTrueFalse StatusEncoding = "truefalse"
	EncodingLabel     StatusEncoding = "label"
)

const (
	DefaultDoneLabel    = "Sudah Mengerjakan"
	DefaultNotDoneLabel = "Belum Mengerjakan"
)

// StatusRule is one tagged decode rule. Match reports ok=false when the raw
// value is not in the encoding the rule understands.
type StatusRule struct {
	Tag   string
	Match func(raw any) (done bool, ok bool)
}

// StatusOptions configures a StatusPolicy.
type StatusOptions struct {
	// DoneLabels are the enum labels that mean "done". Matching ignores case
	// and surrounding whitespace.
	DoneLabels   []string
	DoneLabel    string
	NotDoneLabel string
	Write        StatusEncoding
}

// DefaultStatusOptions returns the labels used by the current form.
func DefaultStatusOptions() StatusOptions {
	return StatusOptions{
		DoneLabels:   []string{DefaultDoneLabel},
		DoneLabel:    DefaultDoneLabel,
		NotDoneLabel: DefaultNotDoneLabel,
		Write:        EncodingTrueFalse,
	}
}

// StatusPolicy decodes any known status encoding and encodes with one.
type StatusPolicy struct {
	rules        []StatusRule
	write        StatusEncoding
	doneLabel    string
	notDoneLabel string
}

// NewStatusPolicy builds the rule chain: native boolean, "true" string, done label.
func NewStatusPolicy(opts StatusOptions) (*StatusPolicy, error) {
	switch opts.Write {
	case EncodingBool, EncodingTrueFalse, EncodingLabel:
	case "":
		opts.Write = EncodingTrueFalse
	default:
		return nil, fmt.Errorf("unknown status encoding %q", opts.Write)
	}
	if opts.DoneLabel == "" {
		opts.DoneLabel = DefaultDoneLabel
	}
	if opts.NotDoneLabel == "" {
		opts.NotDoneLabel = DefaultNotDoneLabel
	}
	if strings.EqualFold(strings.TrimSpace(opts.DoneLabel), strings.TrimSpace(opts.NotDoneLabel)) {
		return nil, fmt.Errorf("done and not-done labels must differ, both are %q", opts.DoneLabel)
	}

	labels := make(map[string]struct{}, len(opts.DoneLabels)+1)
	for _, l := range append(opts.DoneLabels, opts.DoneLabel) {
		if l = normalizeLabel(l); l != "" {
			labels[l] = struct{}{}
		}
	}

	return &StatusPolicy{
		rules: []StatusRule{
			nativeBoolRule(),
			trueStringRule(),
			doneLabelRule(labels),
		},
		write:        opts.Write,
		doneLabel:    opts.DoneLabel,
		notDoneLabel: opts.NotDoneLabel,
	}, nil
}

// Decode applies the rules in order. A value no rule recognizes is "not done".
func (p *StatusPolicy) Decode(raw any) bool {
	for _, r := range p.rules {
		if done, ok := r.Match(raw); ok {
			return done
		}
	}
	return false
}

// Encode returns the physical value for done in the configured write encoding.
func (p *StatusPolicy) Encode(done bool) any {
	switch p.write {
	case EncodingBool:
		return done
	case EncodingLabel:
		if done {
			return p.doneLabel
		}
		return p.notDoneLabel
	default:
		if done {
			return "TRUE"
		}
		return "FALSE"
	}
}

// WriteEncoding reports the encoding used by Encode.
func (p *StatusPolicy) WriteEncoding() StatusEncoding {
	return p.write
}

// Tags lists the decode rules in evaluation order.
func (p *StatusPolicy) Tags() []string {
	tags := make([]string, 0, len(p.rules))
	for _, r := range p.rules {
		tags = append(tags, r.Tag)
	}
	return tags
}

func nativeBoolRule() StatusRule {
	return StatusRule{
		Tag: "native-bool",
		Match: func(raw any) (bool, bool) {
			switch v := raw.(type) {
			case bool:
				return v, true
			case *bool:
				if v == nil {
					return false, false
				}
				return *v, true
			}
			return false, false
		},
	}
}

func trueStringRule() StatusRule {
	return StatusRule{
		Tag: "true-string",
		Match: func(raw any) (bool, bool) {
			s, ok := asString(raw)
			if !ok || !strings.EqualFold(strings.TrimSpace(s), "true") {
				return false, false
			}
			return true, true
		},
	}
}

func doneLabelRule(labels map[string]struct{}) StatusRule {
	return StatusRule{
		Tag: "done-label",
		Match: func(raw any) (bool, bool) {
			s, ok := asString(raw)
			if !ok {
				return false, false
			}
			if _, hit := labels[normalizeLabel(s)]; !hit {
				return false, false
			}
			return true, true
		},
	}
}

func asString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	}
	return "", false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
