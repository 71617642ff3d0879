package types

import "time"

// HostRecord identifies the host of a room. It is sent as the payload of hostInfo.
type HostRecord struct {
	HostId    string `json:"hostId"`
	HostName  string `json:"hostName"`
	HostEmail string `json:"hostEmail"`
}

func NewHostRecord(p Participant) HostRecord {
	return HostRecord{
		HostId:    p.Id,
		HostName:  p.Name,
		HostEmail: p.Email,
	}
}

// RoomInfo is a read-only view of one room, used by the /rooms endpoint.
type RoomInfo struct {
	Id           string      `json:"id"`
	Host         *HostRecord `json:"host"`
	Members      []string    `json:"members"`
	LastActivity time.Time   `json:"lastActivity"`
}
