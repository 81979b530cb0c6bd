package cases

const disputeResolvedSchema = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"type": "string", "pattern": "\\S"},
    "refundAmount": {"type": "number", "minimum": 0},
    "context": {
      "type": "object",
      "properties": {
        "transactionAmount": {"type": "number", "minimum": 0}
      }
    }
  }
}`

const reasonRequiredSchema = `{
  "type": "object",
  "required": ["reason"],
  "properties": {
    "reason": {"type": "string", "pattern": "\\S"}
  }
}`

const fraudResolvedSchema = `{
  "type": "object",
  "required": ["resolution"],
  "properties": {
    "resolution": {"type": "string", "pattern": "\\S"}
  }
}`

const evidenceReasonSchema = `{
  "type": "object",
  "anyOf": [
    {"required": ["reason"], "properties": {"reason": {"type": "string", "pattern": "\\S"}}},
    {"required": ["notes"], "properties": {"notes": {"type": "string", "pattern": "\\S"}}}
  ]
}`
