// Package domain defines the core types shared across the negotiation client.
package domain

import (
	"time"
)

// Message is one chat turn in a negotiation session. The server assigns IDs,
// which are globally unique within a session and serve as the deduplication
// key; CreatedAt is the ordering key.
type Message struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type,omitempty"`
	PriceMentioned *float64  `json:"price_mentioned,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message roles as reported by the negotiation backend.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message types understood by the backend.
const (
	MessageTypeText         = "text"
	MessageTypeCounterOffer = "counter_offer"
	MessageTypeQuestion     = "question"
)

// Structured info kinds for SubmitStructuredInfo.
const (
	InfoTypeTradeIn   = "trade_in"
	InfoTypeFinancing = "financing"
	InfoTypeBudget    = "budget"
)

// ChatExchange is the user/agent message pair returned by every
// request/response send.
type ChatExchange struct {
	UserMessage  Message `json:"user_message"`
	AgentMessage Message `json:"agent_message"`
}
