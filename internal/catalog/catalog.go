// internal/catalog/catalog.go
package catalog

// Card kinds.
const (
	KindCharacter = "character"
	KindWeapon    = "weapon"
	KindRoom      = "room"
)

// Gamer count bounds accepted by a start.
const (
	MinGamers = 3
	MaxGamers = 6
)

// Characters are the suspects; each gamer plays one of them.
var Characters = []string{
	"MISS_SCARLET",
	"COLONEL_MUSTARD",
	"MRS_WHITE",
	"REVEREND_GREEN",
	"MRS_PEACOCK",
	"PROFESSOR_PLUM",
}

// Weapons are the possible murder weapons.
var Weapons = []string{
	"CANDLESTICK",
	"DAGGER",
	"LEAD_PIPE",
	"REVOLVER",
	"ROPE",
	"WRENCH",
}

// Rooms are the nine rooms of the mansion.
var Rooms = []string{
	"KITCHEN",
	"BALLROOM",
	"CONSERVATORY",
	"DINING_ROOM",
	"BILLIARD_ROOM",
	"LIBRARY",
	"LOUNGE",
	"HALL",
	"STUDY",
}

// Lobbies are the corridors between rooms. StartLobby is where every token starts.
var Lobbies = []string{
	StartLobby,
	"EAST_LOBBY",
	"WEST_LOBBY",
}

const StartLobby = "MAIN_LOBBY"

// SecretPassages maps a room to the room its passage leads to.
var SecretPassages = map[string]string{
	"BILLIARD_ROOM": "DINING_ROOM",
	"DINING_ROOM":   "BILLIARD_ROOM",
	"BALLROOM":      "STUDY",
	"STUDY":         "BALLROOM",
}

// Deck returns a fresh copy of the 21 cards, grouped by kind.
func Deck() (characters, weapons, rooms []string) {
	return clone(Characters), clone(Weapons), clone(Rooms)
}

// HouseParts returns every place a token can stand on: rooms first, then lobbies.
func HouseParts() []string {
	parts := make([]string, 0, len(Rooms)+len(Lobbies))
	parts = append(parts, Rooms...)
	return append(parts, Lobbies...)
}

// KindOf reports which kind of card name is, or "" if the name is not in the catalog.
func KindOf(name string) string {
	switch {
	case contains(Characters, name):
		return KindCharacter
	case contains(Weapons, name):
		return KindWeapon
	case contains(Rooms, name):
		return KindRoom
	}
	return ""
}

func IsCharacter(name string) bool { return contains(Characters, name) }
func IsWeapon(name string) bool    { return contains(Weapons, name) }
func IsRoom(name string) bool      { return contains(Rooms, name) }

// IsHousePart reports whether name is a room or a lobby.
func IsHousePart(name string) bool { return contains(Rooms, name) || contains(Lobbies, name) }

// PassageFrom returns the room reached through the secret passage of room, if any.
func PassageFrom(room string) (string, bool) {
	to, ok := SecretPassages[room]
	return to, ok
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func clone(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
