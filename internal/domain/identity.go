package domain

// Identity is the authenticated caller handed to every coordinator operation.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Anonymous reports whether no caller is attached.
func (i Identity) Anonymous() bool {
	return i.ID == ""
}
