package bridge

import "encoding/xml"

// JoinOptions configure how one call leg joins a conference.
type JoinOptions struct {
	StartOnEnter bool
	EndOnExit    bool
	HoldMusicURL string
	Record       bool
}

type twimlResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Dial    twimlDial `xml:"Dial"`
}

type twimlDial struct {
	Conference twimlConference `xml:"Conference"`
}

type twimlConference struct {
	StartOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndOnExit    bool   `xml:"endConferenceOnExit,attr"`
	WaitURL      string `xml:"waitUrl,attr,omitempty"`
	Record       string `xml:"record,attr,omitempty"`
	Name         string `xml:",chardata"`
}

// GenerateJoinInstructions renders the call-control markup that puts one leg
// into the named conference. Output depends only on the arguments.
func GenerateJoinInstructions(conferenceName string, opts JoinOptions) string {
	conf := twimlConference{
		StartOnEnter: opts.StartOnEnter,
		EndOnExit:    opts.EndOnExit,
		WaitURL:      opts.HoldMusicURL,
		Name:         conferenceName,
	}
	if opts.Record {
		conf.Record = "record-from-start"
	}
	b, err := xml.Marshal(twimlResponse{Dial: twimlDial{Conference: conf}})
	if err != nil {
		return ""
	}
	return xml.Header + string(b)
}
