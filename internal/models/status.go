package models

import "encoding/json"

// StatusEvent is a free-form asset status report.
type StatusEvent struct {
	AssetID string
	Status  string
	Details map[string]any
}

// CommandAck is a device confirmation of a previously published command.
type CommandAck struct {
	AssetID     string
	CommandType string
	Details     map[string]any
}

// DecodeStatus parses a status payload. A missing status reads as "unknown";
// the full payload is kept as details. assetID overrides the payload's asset_id.
func DecodeStatus(raw []byte, assetID string) (StatusEvent, error) {
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		return StatusEvent{}, err
	}
	ev := StatusEvent{AssetID: assetID, Status: "unknown", Details: details}
	if ev.AssetID == "" {
		if s, ok := details["asset_id"].(string); ok {
			ev.AssetID = s
		}
	}
	if s, ok := details["status"].(string); ok && s != "" {
		ev.Status = s
	}
	return ev, nil
}

// DecodeCommandAck parses a command confirmation payload.
func DecodeCommandAck(raw []byte, assetID string) (CommandAck, error) {
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		return CommandAck{}, err
	}
	ack := CommandAck{AssetID: assetID, CommandType: "unknown", Details: details}
	if s, ok := details["asset_id"].(string); ok && s != "" && ack.AssetID == "" {
		ack.AssetID = s
	}
	if s, ok := details["command_type"].(string); ok && s != "" {
		ack.CommandType = s
	}
	return ack, nil
}
