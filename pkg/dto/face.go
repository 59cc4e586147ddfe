package dto

type ReferenceResponse struct {
	UID       string `json:"uid"`
	SourceKey string `json:"source_key,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}
