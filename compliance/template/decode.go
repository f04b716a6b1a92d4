package template

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/compliq/errors"
)

func invalid(format Format, err error) error {
	return errors.Wrapf(errors.NewInvalidRequestError("malformed %s template", format), "%v", err)
}

// JSON

func decodeJSON(data []byte, path []string) (*document, error) {
	raw := json.RawMessage(data)
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, invalid(FormatJSON, err)
		}
		next, ok := obj[key]
		if !ok {
			return nil, errors.NewInvalidRequestError("document has no %q object", key)
		}
		raw = next
	}

	keys, err := jsonKeys(raw)
	if err != nil {
		return nil, invalid(FormatJSON, err)
	}
	if !isWrapped(keys) {
		return decodeJSONSections(raw, "")
	}

	var wrapped struct {
		SchemaVersion string          `json:"schema_version"`
		Sections      json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, invalid(FormatJSON, err)
	}
	return decodeJSONSections(wrapped.Sections, wrapped.SchemaVersion)
}

func decodeJSONSections(raw json.RawMessage, version string) (*document, error) {
	names, err := jsonKeys(raw)
	if err != nil {
		return nil, invalid(FormatJSON, err)
	}
	var specs map[string]sectionSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, invalid(FormatJSON, err)
	}

	doc := &document{version: version}
	for _, name := range names {
		doc.add(name, specs[name])
	}
	return doc, nil
}

// jsonKeys returns the keys of a JSON object in document order, first occurrence only
func jsonKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("template is not a JSON object")
	}

	var keys []string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Newf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// YAML

func decodeYAML(data []byte, path []string) (*document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, invalid(FormatYAML, err)
	}
	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, errors.NewInvalidRequestError("empty YAML template")
		}
		node = node.Content[0]
	}

	for _, key := range path {
		next := yamlChild(node, key)
		if next == nil {
			return nil, errors.NewInvalidRequestError("document has no %q mapping", key)
		}
		node = next
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.NewInvalidRequestError("YAML template is not a mapping")
	}

	if !isWrapped(yamlKeys(node)) {
		return decodeYAMLSections(node, "")
	}

	var version string
	if v := yamlChild(node, keySchemaVersion); v != nil {
		if err := v.Decode(&version); err != nil {
			return nil, invalid(FormatYAML, err)
		}
	}
	return decodeYAMLSections(yamlChild(node, keySections), version)
}

func decodeYAMLSections(node *yaml.Node, version string) (*document, error) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, errors.NewInvalidRequestError("YAML sections are not a mapping")
	}
	doc := &document{version: version}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return nil, errors.NewInvalidRequestError("YAML template repeats section %q", name)
		}
		seen[name] = true

		var spec sectionSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return nil, errors.Wrapf(invalid(FormatYAML, err), "section %q", name)
		}
		doc.add(name, spec)
	}
	return doc, nil
}

func yamlKeys(node *yaml.Node) []string {
	var keys []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

func yamlChild(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// TOML

func decodeTOML(data []byte, path []string) (*document, error) {
	var top map[string]toml.Primitive
	md, err := toml.Decode(string(data), &top)
	if err != nil {
		return nil, invalid(FormatTOML, err)
	}

	table := top
	for _, key := range path {
		prim, ok := table[key]
		if !ok {
			return nil, errors.NewInvalidRequestError("document has no %q table", key)
		}
		var next map[string]toml.Primitive
		if err := md.PrimitiveDecode(prim, &next); err != nil {
			return nil, invalid(FormatTOML, err)
		}
		table = next
	}

	prefix := append([]string(nil), path...)
	if !isWrapped(tomlKeys(md, prefix)) {
		return decodeTOMLSections(md, table, prefix, "")
	}

	var version string
	if prim, ok := table[keySchemaVersion]; ok {
		if err := md.PrimitiveDecode(prim, &version); err != nil {
			return nil, invalid(FormatTOML, err)
		}
	}
	var sections map[string]toml.Primitive
	if err := md.PrimitiveDecode(table[keySections], &sections); err != nil {
		return nil, invalid(FormatTOML, err)
	}
	return decodeTOMLSections(md, sections, append(prefix, keySections), version)
}

func decodeTOMLSections(md toml.MetaData, table map[string]toml.Primitive, prefix []string, version string) (*document, error) {
	doc := &document{version: version}
	for _, name := range tomlKeys(md, prefix) {
		prim, ok := table[name]
		if !ok {
			continue
		}
		var spec sectionSpec
		if err := md.PrimitiveDecode(prim, &spec); err != nil {
			return nil, errors.Wrapf(invalid(FormatTOML, err), "section %q", name)
		}
		doc.add(name, spec)
	}
	return doc, nil
}

// tomlKeys lists the direct children of prefix in document order
func tomlKeys(md toml.MetaData, prefix []string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range md.Keys() {
		if len(k) <= len(prefix) || !hasPrefix(k, prefix) {
			continue
		}
		name := k[len(prefix)]
		if !seen[name] {
			seen[name] = true
			keys = append(keys, name)
		}
	}
	return keys
}

func hasPrefix(key toml.Key, prefix []string) bool {
	return strings.Join(key[:len(prefix)], "\x00") == strings.Join(prefix, "\x00")
}
