package pcidev

// Schema is the JSON schema of Config.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "pcidma device",
  "type": "object",
  "definitions": {
    "duration": {
      "type": ["integer", "string"],
      "minimum": 0
    }
  },
  "properties": {
    "device": {
      "type": "string",
      "pattern": "^([0-9a-fA-F]{1,4}:)?[0-9a-fA-F]{1,2}:[0-9a-fA-F]{1,2}\\.[0-7]$"
    },
    "bar": { "type": "integer", "minimum": 0, "maximum": 5 },
    "byteOrder": { "enum": ["little", "big", "native"] },
    "emulate": {
      "type": "object",
      "properties": {
        "pairs": { "type": "integer", "minimum": 1, "maximum": 32 },
        "loopback": { "type": "boolean" },
        "generator": { "type": "boolean" },
        "packetSize": { "type": "integer", "minimum": 1 }
      },
      "additionalProperties": false
    },
    "backend": { "enum": ["nwl", "ipe"] },
    "lockDir": { "type": "string" },
    "pinnedCache": { "type": "integer", "minimum": 1 },
    "dma": {
      "type": "object",
      "properties": {
        "interface": { "type": "string" },
        "pollInterval": { "$ref": "#/definitions/duration" },
        "busyPoll": { "type": "boolean" },
        "defaultTimeout": { "$ref": "#/definitions/duration" },
        "skipTimeout": { "$ref": "#/definitions/duration" }
      },
      "additionalProperties": false
    },
    "nwl": {
      "type": "object",
      "properties": {
        "ringSize": { "type": "integer", "minimum": 0 },
        "pageSize": { "type": "integer", "minimum": 0 },
        "registerTimeout": { "$ref": "#/definitions/duration" },
        "generateIRQ": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "ipe": {
      "type": "object",
      "properties": {
        "pages": { "type": "integer", "minimum": 0 },
        "tlpSize": { "type": "integer", "minimum": 0 },
        "mode32": { "type": "boolean" },
        "resetDelay": { "$ref": "#/definitions/duration" },
        "noDataSleep": { "$ref": "#/definitions/duration" },
        "emptyDetected": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  },
  "required": ["backend"],
  "oneOf": [
    { "required": ["device"] },
    { "required": ["emulate"] }
  ],
  "additionalProperties": false
}`
