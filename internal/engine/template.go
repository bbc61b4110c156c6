package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Context — контекст для рендеринга команд задач.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Params.version }}
//   - {{ .Run.ID }}, {{ .Run.Pipeline }}
//   - {{ .Task }}
type Context struct {
	// Params — итоговые параметры задачи (после MergeParams).
	Params map[string]string `json:"params"`

	// Run — сведения о run.
	Run RunContext `json:"run"`

	// Task — имя задачи.
	Task string `json:"task"`
}

// RunContext — сведения о run, доступные в шаблонах.
type RunContext struct {
	ID       string `json:"id"`
	Pipeline string `json:"pipeline"`
	Version  int    `json:"version"`
}

// NewContext создаёт контекст для задачи.
func NewContext(params map[string]string) *Context {
	if params == nil {
		params = make(map[string]string)
	}
	return &Context{Params: params}
}

// MergeParams объединяет параметры: pipeline < задача < run.
//
// Каждый следующий слой перекрывает значения предыдущего.
func MergeParams(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val string) string {
		if val == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...string) string {
		for _, v := range values {
			if v != "" {
				return v
			}
		}
		return ""
	},

	// quote — экранирует значение для shell в одинарных кавычках
	"quote": func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	},

	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
// Отсутствующий параметр — ошибка, а не пустая строка:
//
//	docker build -t app:{{ .Params.version }} .
func Render(tmpl string, ctx *Context) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// MustRender рендерит шаблон и паникует при ошибке.
// Используется только для тестов.
func MustRender(tmpl string, ctx *Context) string {
	result, err := Render(tmpl, ctx)
	if err != nil {
		panic(err)
	}
	return result
}
