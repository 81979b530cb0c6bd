package api

const openCaseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["kind"],
  "properties": {
    "id": {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[A-Za-z0-9._:-]+$"},
    "kind": {"type": "string", "minLength": 1, "maxLength": 64},
    "priority": {"type": "string", "maxLength": 32},
    "payload": {"type": "object"}
  }
}`

const transitionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["target"],
  "properties": {
    "target": {"type": "string", "minLength": 1, "maxLength": 64},
    "payload": {"type": "object"},
    "expected_version": {"type": "integer", "minimum": 1}
  }
}`

const assignmentSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["assignee"],
  "properties": {
    "assignee": {"type": "string", "maxLength": 255},
    "expected_version": {"type": "integer", "minimum": 1}
  }
}`
