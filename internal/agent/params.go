package agent

import "sort"

// Params holds strategy parameters. Values are numeric (float64 or int) or
// non-numeric (strings, string lists) and are schema-checked by the strategy.
type Params map[string]any

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Merge returns defaults overridden key by key with p.
func (p Params) Merge(defaults Params) Params {
	out := defaults.Clone()
	for k, v := range p.Clone() {
		out[k] = v
	}
	return out
}

func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (p Params) FloatOr(key string, def float64) float64 {
	if v, ok := p.Float(key); ok {
		return v
	}
	return def
}

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Scale multiplies every numeric parameter by the factor drawn for it.
// Non-numeric values are copied unchanged. Keys are visited in sorted order so
// a seeded source gives reproducible children.
func (p Params) Scale(factor func() float64) Params {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := p.Clone()
	for _, k := range keys {
		if v, ok := p.Float(k); ok {
			out[k] = v * factor()
		}
	}
	return out
}
