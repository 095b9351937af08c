package format

import (
	"fmt"
	"sort"
	"strings"
)

// Tool input schemas arrive as arbitrary JSON Schema, but CodeAssist only
// accepts a narrow Protobuf-flavored subset. Two stages bring a schema into
// that subset: SanitizeSchema keeps an allowlist of safe keywords, and
// CleanSchema lossily flattens what remains ($ref, unions, type arrays,
// validation constraints), preserving the dropped information as description
// hints so the model still sees it.

type schemaMap = map[string]interface{}

// sanitizeAllowedKeys is the keyword allowlist applied by SanitizeSchema.
var sanitizeAllowedKeys = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
	"title":       true,
}

// placeholderFields fills in the stand-in parameter CodeAssist needs when a
// tool declares no usable input: an object schema must have at least one
// property.
func placeholderFields(s schemaMap) {
	s["properties"] = schemaMap{
		"reason": schemaMap{
			"type":        "string",
			"description": "Reason for calling this tool",
		},
	}
	s["required"] = []string{"reason"}
}

// SanitizeSchema reduces a JSON Schema to the allowlisted keyword set,
// rewriting "const" into a single-value "enum" and substituting a
// placeholder object schema when the input is empty. The input map is never
// mutated.
func SanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if len(schema) == 0 {
		out := schemaMap{"type": "object"}
		placeholderFields(out)
		return out
	}

	out := make(schemaMap)
	for key, value := range schema {
		if key == "const" {
			out["enum"] = []interface{}{value}
			continue
		}
		if !sanitizeAllowedKeys[key] {
			continue
		}

		switch key {
		case "properties":
			props, ok := value.(schemaMap)
			if !ok {
				continue
			}
			sanitizedProps := make(schemaMap, len(props))
			for name, prop := range props {
				if m, ok := prop.(schemaMap); ok {
					sanitizedProps[name] = SanitizeSchema(m)
				} else {
					sanitizedProps[name] = prop
				}
			}
			out["properties"] = sanitizedProps
		case "items":
			switch items := value.(type) {
			case schemaMap:
				out["items"] = SanitizeSchema(items)
			case []interface{}:
				sanitizedItems := make([]interface{}, 0, len(items))
				for _, item := range items {
					if m, ok := item.(schemaMap); ok {
						sanitizedItems = append(sanitizedItems, SanitizeSchema(m))
					} else {
						sanitizedItems = append(sanitizedItems, item)
					}
				}
				out["items"] = sanitizedItems
			default:
				out["items"] = value
			}
		default:
			if m, ok := value.(schemaMap); ok {
				out[key] = SanitizeSchema(m)
			} else {
				out[key] = value
			}
		}
	}

	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if t, _ := out["type"].(string); t == "object" {
		if props, ok := out["properties"].(schemaMap); !ok || len(props) == 0 {
			placeholderFields(out)
		}
	}
	return out
}

// cleanStrippedKeys are removed outright in the final pass; everything worth
// keeping from them has been folded into description hints by then.
var cleanStrippedKeys = []string{
	"additionalProperties", "default", "$schema", "$defs",
	"definitions", "$ref", "$id", "$comment", "title",
	"minLength", "maxLength", "pattern", "format",
	"minItems", "maxItems", "examples", "allOf", "anyOf", "oneOf",
}

// CleanSchema flattens a sanitized schema into the shape CodeAssist accepts:
// $refs and union keywords collapse to their best concrete option, type
// arrays pick one type (nullable members leave the required list), remaining
// validation keywords move into description hints, and type names switch to
// the upstream uppercase spelling. The input is deep-copied first; every
// pass below mutates the copy in place.
func CleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	s := deepCopySchema(schema)

	s = inlineRefs(s)
	hintEnums(s)
	hintClosedObjects(s)
	hintConstraints(s)
	inlineAllOf(s)
	collapseUnions(s)
	flattenTypeField(s)
	normalizeTypes(s)
	finalize(s)

	return s
}

// eachSubschema rewrites every directly nested subschema of s through fn,
// assigning results back in place: properties, items (single or positional),
// and — when unions is set — anyOf/oneOf/allOf branches.
func eachSubschema(s schemaMap, unions bool, fn func(schemaMap) schemaMap) {
	if props, ok := s["properties"].(schemaMap); ok {
		for name, prop := range props {
			if m, ok := prop.(schemaMap); ok {
				props[name] = fn(m)
			}
		}
	}
	switch items := s["items"].(type) {
	case schemaMap:
		s["items"] = fn(items)
	case []interface{}:
		for i, item := range items {
			if m, ok := item.(schemaMap); ok {
				items[i] = fn(m)
			}
		}
	}
	if unions {
		for _, key := range []string{"anyOf", "oneOf", "allOf"} {
			if branches, ok := s[key].([]interface{}); ok {
				for i, branch := range branches {
					if m, ok := branch.(schemaMap); ok {
						branches[i] = fn(m)
					}
				}
			}
		}
	}
}

// appendHint folds a hint into the schema's description: "desc (hint)", or
// just the hint when there is no description yet.
func appendHint(s schemaMap, hint string) {
	if desc, ok := s["description"].(string); ok && desc != "" {
		s["description"] = fmt.Sprintf("%s (%s)", desc, hint)
	} else {
		s["description"] = hint
	}
}

// inlineRefs replaces any node carrying a $ref with a plain object schema
// whose description names the referenced definition. The target itself is
// unreachable once $defs is stripped, so the name is all that survives.
func inlineRefs(s schemaMap) schemaMap {
	if ref, ok := s["$ref"].(string); ok {
		parts := strings.Split(ref, "/")
		defName := parts[len(parts)-1]
		if defName == "" {
			defName = "unknown"
		}
		replacement := schemaMap{"type": "object"}
		if desc, ok := s["description"].(string); ok && desc != "" {
			replacement["description"] = desc
		}
		appendHint(replacement, "See: "+defName)
		return replacement
	}
	eachSubschema(s, true, inlineRefs)
	return s
}

// hintEnums surfaces small enum value sets in the description.
func hintEnums(s schemaMap) {
	if vals, ok := s["enum"].([]interface{}); ok && len(vals) > 1 && len(vals) <= 10 {
		rendered := make([]string, 0, len(vals))
		for _, v := range vals {
			rendered = append(rendered, fmt.Sprintf("%v", v))
		}
		appendHint(s, "Allowed: "+strings.Join(rendered, ", "))
	}
	eachSubschema(s, false, func(m schemaMap) schemaMap { hintEnums(m); return m })
}

// hintClosedObjects records additionalProperties: false before it is
// stripped.
func hintClosedObjects(s schemaMap) {
	if s["additionalProperties"] == false {
		appendHint(s, "No extra properties allowed")
	}
	eachSubschema(s, false, func(m schemaMap) schemaMap { hintClosedObjects(m); return m })
}

// hintedConstraintKeys are validation keywords CodeAssist rejects; their
// values survive as description hints.
var hintedConstraintKeys = []string{
	"minLength", "maxLength", "pattern", "minimum", "maximum",
	"minItems", "maxItems", "format",
}

func hintConstraints(s schemaMap) {
	for _, key := range hintedConstraintKeys {
		if value, ok := s[key]; ok {
			if _, isMap := value.(schemaMap); !isMap {
				appendHint(s, fmt.Sprintf("%s: %v", key, value))
			}
		}
	}
	eachSubschema(s, false, func(m schemaMap) schemaMap { hintConstraints(m); return m })
}

// inlineAllOf merges an allOf branch list into its parent node: properties
// union (parent wins, then first branch wins), required union, and any other
// keyword on first-seen basis with the parent taking precedence.
func inlineAllOf(s schemaMap) {
	if branches, ok := s["allOf"].([]interface{}); ok && len(branches) > 0 {
		mergedProps := make(schemaMap)
		mergedRequired := make(map[string]bool)
		otherKeys := make(schemaMap)

		for _, branch := range branches {
			m, ok := branch.(schemaMap)
			if !ok {
				continue
			}
			if props, ok := m["properties"].(schemaMap); ok {
				for name, prop := range props {
					mergedProps[name] = prop
				}
			}
			if required, ok := m["required"].([]interface{}); ok {
				for _, r := range required {
					if name, ok := r.(string); ok {
						mergedRequired[name] = true
					}
				}
			}
			for key, value := range m {
				if key == "properties" || key == "required" {
					continue
				}
				if _, seen := otherKeys[key]; !seen {
					otherKeys[key] = value
				}
			}
		}

		delete(s, "allOf")

		for key, value := range otherKeys {
			if _, exists := s[key]; !exists {
				s[key] = value
			}
		}
		if len(mergedProps) > 0 {
			props, _ := s["properties"].(schemaMap)
			if props == nil {
				props = make(schemaMap)
				s["properties"] = props
			}
			for name, prop := range mergedProps {
				if _, exists := props[name]; !exists {
					props[name] = prop
				}
			}
		}
		if len(mergedRequired) > 0 {
			if existing, ok := s["required"].([]interface{}); ok {
				for _, r := range existing {
					if name, ok := r.(string); ok {
						mergedRequired[name] = true
					}
				}
			}
			names := make([]string, 0, len(mergedRequired))
			for name := range mergedRequired {
				names = append(names, name)
			}
			sort.Strings(names)
			required := make([]interface{}, 0, len(names))
			for _, name := range names {
				required = append(required, name)
			}
			s["required"] = required
		}
	}

	eachSubschema(s, false, func(m schemaMap) schemaMap { inlineAllOf(m); return m })
}

// unionBranchScore ranks anyOf/oneOf branches: concrete object shapes are
// the most useful to keep, arrays next, then any other non-null type.
func unionBranchScore(s schemaMap) int {
	switch {
	case s == nil:
		return 0
	case s["type"] == "object" || s["properties"] != nil:
		return 3
	case s["type"] == "array" || s["items"] != nil:
		return 2
	default:
		if t, ok := s["type"].(string); ok && t != "null" {
			return 1
		}
		return 0
	}
}

// collapseUnions picks the highest-scoring anyOf/oneOf branch, merges it
// into the parent node, and leaves an "Accepts: a | b" hint when the union
// spanned several concrete types.
func collapseUnions(s schemaMap) {
	for _, unionKey := range []string{"anyOf", "oneOf"} {
		branches, ok := s[unionKey].([]interface{})
		if !ok || len(branches) == 0 {
			continue
		}

		var typeNames []string
		var best schemaMap
		bestScore := -1
		for _, branch := range branches {
			m, ok := branch.(schemaMap)
			if !ok {
				continue
			}
			name := ""
			if t, ok := m["type"].(string); ok {
				name = t
			} else if m["properties"] != nil {
				name = "object"
			}
			if name != "" && name != "null" {
				typeNames = append(typeNames, name)
			}
			if score := unionBranchScore(m); score > bestScore {
				bestScore = score
				best = m
			}
		}

		delete(s, unionKey)
		if best == nil {
			continue
		}

		collapseUnions(best)
		parentDesc, _ := s["description"].(string)
		for key, value := range best {
			if key == "description" {
				if desc, ok := value.(string); ok && desc != "" && desc != parentDesc {
					if parentDesc != "" {
						s["description"] = fmt.Sprintf("%s (%s)", parentDesc, desc)
					} else {
						s["description"] = desc
					}
				}
				continue
			}
			if _, exists := s[key]; !exists || key == "type" || key == "properties" || key == "items" {
				s[key] = value
			}
		}

		if len(typeNames) > 1 {
			appendHint(s, "Accepts: "+strings.Join(dedupeStrings(typeNames), " | "))
		}
	}

	eachSubschema(s, false, func(m schemaMap) schemaMap { collapseUnions(m); return m })
}

// flattenTypeField reduces a type array on s to a single type, hinting the
// alternatives, and reports whether "null" was among them.
func flattenTypeField(s schemaMap) (nullable bool) {
	typeArr, ok := s["type"].([]interface{})
	if !ok {
		return false
	}

	var concrete []string
	for _, t := range typeArr {
		name, ok := t.(string)
		if !ok {
			continue
		}
		if name == "null" {
			nullable = true
		} else if name != "" {
			concrete = append(concrete, name)
		}
	}

	chosen := "string"
	if len(concrete) > 0 {
		chosen = concrete[0]
	}
	s["type"] = chosen

	if len(concrete) > 1 {
		appendHint(s, "Accepts: "+strings.Join(concrete, " | "))
	}
	if nullable {
		appendHint(s, "nullable")
	}
	return nullable
}

// normalizeTypes flattens type arrays throughout the tree. A property whose
// type included "null" is optional by construction, so it also leaves the
// parent's required list. Callers flatten the root node themselves.
func normalizeTypes(s schemaMap) {
	if props, ok := s["properties"].(schemaMap); ok {
		nullable := make(map[string]bool)
		for name, prop := range props {
			if m, ok := prop.(schemaMap); ok {
				if flattenTypeField(m) {
					nullable[name] = true
				}
				normalizeTypes(m)
			}
		}
		if required, ok := s["required"].([]interface{}); ok && len(nullable) > 0 {
			kept := make([]interface{}, 0, len(required))
			for _, r := range required {
				if name, ok := r.(string); ok && !nullable[name] {
					kept = append(kept, name)
				}
			}
			if len(kept) == 0 {
				delete(s, "required")
			} else {
				s["required"] = kept
			}
		}
	}

	switch items := s["items"].(type) {
	case schemaMap:
		flattenTypeField(items)
		normalizeTypes(items)
	case []interface{}:
		for _, item := range items {
			if m, ok := item.(schemaMap); ok {
				flattenTypeField(m)
				normalizeTypes(m)
			}
		}
	}
}

// googleTypeNames maps JSON Schema type names to the upstream Protobuf-style
// spelling. "null" has no counterpart and degrades to STRING.
var googleTypeNames = map[string]string{
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
	"array":   "ARRAY",
	"object":  "OBJECT",
	"null":    "STRING",
}

func googleType(name string) string {
	if name == "" {
		return name
	}
	if upper, ok := googleTypeNames[strings.ToLower(name)]; ok {
		return upper
	}
	return strings.ToUpper(name)
}

// finalize strips the keywords CodeAssist rejects, prunes required entries
// whose property no longer exists, and switches type names to the upstream
// spelling, throughout the tree.
func finalize(s schemaMap) {
	for _, key := range cleanStrippedKeys {
		delete(s, key)
	}

	if required, ok := s["required"].([]interface{}); ok {
		if props, ok := s["properties"].(schemaMap); ok {
			kept := make([]interface{}, 0, len(required))
			for _, r := range required {
				if name, ok := r.(string); ok {
					if _, defined := props[name]; defined {
						kept = append(kept, name)
					}
				}
			}
			if len(kept) == 0 {
				delete(s, "required")
			} else {
				s["required"] = kept
			}
		}
	}

	if t, ok := s["type"].(string); ok {
		s["type"] = googleType(t)
	}

	eachSubschema(s, false, func(m schemaMap) schemaMap { finalize(m); return m })
}

// deepCopySchema copies a decoded-JSON tree so the pipeline can mutate it
// freely.
func deepCopySchema(s schemaMap) schemaMap {
	out := make(schemaMap, len(s))
	for key, value := range s {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case schemaMap:
		return deepCopySchema(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
