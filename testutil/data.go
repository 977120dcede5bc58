package testutil

// Track is a row of the media fixture.
type Track struct {
	OID    string
	Title  string
	Artist string
	Year   int
	Length int
}

// Tracks is a small library used across package tests.
var Tracks = []Track{
	{OID: "t1", Title: "Blue in Green", Artist: "Miles Davis", Year: 1959, Length: 337},
	{OID: "t2", Title: "So What", Artist: "Miles Davis", Year: 1959, Length: 562},
	{OID: "t3", Title: "Naima", Artist: "John Coltrane", Year: 1960, Length: 261},
	{OID: "t4", Title: "Giant Steps", Artist: "John Coltrane", Year: 1960, Length: 286},
	{OID: "t5", Title: "Peace Piece", Artist: "Bill Evans", Year: 1958, Length: 404},
}

// Playlists are fixture objects of type "playlist".
var Playlists = map[string]string{
	"p1": "Evening",
	"p2": "Road",
}

// NewMediaProvider returns a provider named "media" holding Tracks as
// "track" objects and Playlists as "playlist" objects. Tracks start with
// status "stopped".
func NewMediaProvider() *MemProvider {
	p := NewMemProvider("media")
	for _, t := range Tracks {
		p.Add(t.OID, []string{"track", "audio"},
			"title", t.Title,
			"artist", t.Artist,
			"year", t.Year,
			"length", t.Length,
			"status", "stopped",
		)
	}
	for oid, name := range Playlists {
		p.Add(oid, []string{"playlist"}, "name", name)
	}
	return p
}
