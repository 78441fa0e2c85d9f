// Package protocol defines the frames exchanged over the message bus: the
// step taxonomy, the {step, status, payload} envelope and one typed payload
// per step.
package protocol

import "strings"

// Step is the discriminator of a bus frame.
type Step string

const (
	StepAllPlayers                   Step = "ALL_PLAYERS"
	StepAdded                        Step = "ADDED"
	StepRemoved                      Step = "REMOVED"
	StepNextQuestion                 Step = "NEXT_QUESTION"
	StepStart                        Step = "START"
	StepStop                         Step = "STOP"
	StepReset                        Step = "RESET"
	StepClosed                       Step = "CLOSED"
	StepUpdatedSettings              Step = "UPDATED_SETTINGS"
	StepUpdatedResponse              Step = "UPDATED_RESPONSE"
	StepReadingConfirmationRequested Step = "READING_CONFIRMATION_REQUESTED"
	StepSetActive                    Step = "SET_ACTIVE"
	StepSetInactive                  Step = "SET_INACTIVE"
)

// Known reports whether the step has a typed payload.
func (s Step) Known() bool {
	_, ok := decoders[s]
	return ok
}

// Reserved steps maintain the active-session index and never reach generic subscribers.
func (s Step) Reserved() bool {
	return s == StepSetActive || s == StepSetInactive
}

type Status string

const (
	StatusSuccess Status = "STATUS:SUCCESSFUL"
	StatusFailed  Status = "STATUS:FAILED"
)

// DefaultGlobalTopic carries SET_ACTIVE / SET_INACTIVE for every session.
const DefaultGlobalTopic = "global"

// SessionTopic names the per-session topic.
func SessionTopic(prefix, sessionName string) string {
	return prefix + strings.TrimSpace(sessionName)
}
