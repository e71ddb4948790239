package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/llm"
)

// Definition 描述一个工具。InputSchema 是 JSON Schema 文档。
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Schema 将 InputSchema 解码为通用对象，供推理服务适配层使用。
func (d Definition) Schema() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(d.InputSchema, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry 是启动时构造的静态工具表，构造后只读。
type Registry struct {
	order   []string
	entries map[string]entry
}

// NewRegistry 编译全部工具的 schema，任何一个无法编译都视为部署错误。
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "工具名称不能为空")
		}
		if _, dup := r.entries[def.Name]; dup {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 重复注册", def.Name))
		}
		schema, err := compile(def)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("编译工具 %s 的 schema 失败", def.Name))
		}
		r.entries[def.Name] = entry{def: def, schema: schema}
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

func compile(def Definition) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(def.InputSchema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := def.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// Definitions 按注册顺序返回工具定义。
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// Specs 返回提供给推理服务的工具描述，这是推理服务获得工具列表的唯一途径。
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		def := r.entries[name].def
		out = append(out, llm.ToolSpec{Name: def.Name, Description: def.Description, InputSchema: def.Schema()})
	}
	return out
}

// Names 返回排序后的工具名称。
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Lookup 查找工具定义。
func (r *Registry) Lookup(name string) (Definition, bool) {
	e, ok := r.entries[name]
	return e.def, ok
}

// Validate 校验工具名称与参数。空参数按空对象处理。
func (r *Registry) Validate(name string, args json.RawMessage) error {
	e, ok := r.entries[name]
	if !ok {
		return xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("工具 %q 未注册", name))
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var payload any
	if err := json.Unmarshal(args, &payload); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidToolInput, err, fmt.Sprintf("工具 %s 的参数不是合法 JSON", name))
	}
	if err := e.schema.Validate(payload); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidToolInput, err, fmt.Sprintf("工具 %s 的参数未通过校验", name))
	}
	return nil
}
