package relay

func (r *Relay) handlePing(ch *Channel) {
	r.sendJSON(ch, struct {
		Type string `json:"type"`
	}{Type: msgPong})
}
