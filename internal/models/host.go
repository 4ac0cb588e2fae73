package models

import "time"

/**
 * SSH host record (persisted, serialized to JSON format)
 * @property {string} name - Display name
 * @property {string} hostname - SSH server address
 * @property {int} port - SSH server port (default 22)
 * @property {string} username - Login user
 * @property {string} identityFile - Private key path, optional
 * @property {string} extraArgs - Extra ssh CLI tokens, opaque trusted input
 * @property {int} keepaliveInterval - ServerAliveInterval seconds, 0 disables
 * @property {int} keepaliveCountMax - ServerAliveCountMax, 0 uses ssh default
 */
type Host struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name" gorm:"not null"`
	Hostname          string    `json:"hostname" gorm:"not null"`
	Port              int       `json:"port" gorm:"default:22"`
	Username          string    `json:"username" gorm:"not null"`
	IdentityFile      string    `json:"identityFile,omitempty"`
	ExtraArgs         string    `json:"extraArgs,omitempty"`
	KeepaliveInterval int       `json:"keepaliveInterval,omitempty"`
	KeepaliveCountMax int       `json:"keepaliveCountMax,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
