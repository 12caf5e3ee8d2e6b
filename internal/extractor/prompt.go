package extractor

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/pkg/types"
)

const systemPrompt = `You read API documentation and extract machine-readable constraints for every parameter of one API method.
You receive the API name and description, the method name and description, and the method's parameters with their documented metadata.
For each parameter, report only the constraints the documentation states or clearly implies:

(1) format: the required value format, such as a standard code or layout (e.g. ISO 8601 date, ISO 4217 currency code, ISO 3166 country code, IATA code, email, UUID). When the documentation gives an exact pattern, write it as "regex:<pattern>".
(2) values: numeric bounds as "min" and "max", and "enumerated" for a closed list of accepted literals. Use "enumerated" only when the documentation fixes the set; list at most 40 values.
(3) id: true when the parameter identifies a resource (e.g. "hotelId", "message_id", a description saying it is an ID).
(4) technical: true when the parameter serves the API mechanics rather than what the user wants: pagination (page, offset, limit, page size), sorting and field selection, credentials (api key, access token), system switches (cache, debug, locale, encoding) and callback URLs.
(5) inter-dependency: a required relation between parameters. List every parameter involved separated by commas, then a colon, then the relation. Supported relations: one parameter requires others; at least one of a set must be given; only one of a set must be given; all or none of a set must be given; an arithmetic or relational condition between values (e.g. "checkIn, checkOut: checkIn must be less than checkOut").

Omit any field that does not apply or cannot be inferred. Never guess a value.
Return one JSON object keyed by parameter name whose values hold only the applicable fields. Return nothing but the JSON.`

const exampleInput = `{
  "API Name": "Hotel Finder",
  "API Description": "Search hotel availability and rates by city or coordinates, with guest counts and paginated results.",
  "API Method Name": "searchHotels",
  "API Method Description": "Returns hotels with available rooms for the given stay. Either a city code or a latitude/longitude pair locates the search.",
  "Parameters": [
    {"name": "cityCode", "description": "destination city as an IATA code, e.g. LON", "required": false},
    {"name": "latitude", "description": "latitude of the search centre; must be sent with longitude", "required": false},
    {"name": "longitude", "description": "longitude of the search centre; must be sent with latitude", "required": false},
    {"name": "checkInDate", "description": "check-in date in YYYY-MM-DD format", "required": true},
    {"name": "checkOutDate", "description": "check-out date in YYYY-MM-DD format, after checkInDate", "required": true},
    {"name": "adults", "description": "number of adult guests per room, 1 to 9", "required": true, "default": 1},
    {"name": "boardType", "description": "meal plan: ROOM_ONLY, BREAKFAST, HALF_BOARD or FULL_BOARD", "required": false},
    {"name": "hotelIds", "description": "comma separated hotel identifiers", "required": false},
    {"name": "page[limit]", "description": "maximum items per page", "required": false, "default": 20}
  ]
}`

const exampleOutput = `{
  "cityCode": {
    "format": "IATA code",
    "inter-dependency": "cityCode, latitude: only one of cityCode or the latitude/longitude pair must be provided"
  },
  "latitude": {
    "values": {"min": -90, "max": 90},
    "inter-dependency": "latitude, longitude: both parameters must be included together"
  },
  "longitude": {
    "values": {"min": -180, "max": 180},
    "inter-dependency": "latitude, longitude: both parameters must be included together"
  },
  "checkInDate": {
    "format": "ISO 8601 date",
    "inter-dependency": "checkInDate, checkOutDate: checkInDate must be less than checkOutDate"
  },
  "checkOutDate": {
    "format": "ISO 8601 date"
  },
  "adults": {
    "values": {"min": 1, "max": 9}
  },
  "boardType": {
    "values": {"enumerated": ["ROOM_ONLY", "BREAKFAST", "HALF_BOARD", "FULL_BOARD"]}
  },
  "hotelIds": {
    "id": true
  },
  "page[limit]": {
    "values": {"min": 1},
    "technical": true
  }
}`

type paramPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type,omitempty"`
	Default     any    `json:"default,omitempty"`
	Example     any    `json:"example,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

type methodPayload struct {
	APIName           string         `json:"API Name"`
	APIDescription    string         `json:"API Description"`
	MethodName        string         `json:"API Method Name"`
	MethodDescription string         `json:"API Method Description"`
	Parameters        []paramPayload `json:"Parameters"`
}

// BuildMessages returns the system instruction, the worked example and the payload for one method.
func BuildMessages(tool *types.ToolSpec, m *types.APIMethod, descLimit int) ([]llm.Message, error) {
	payload := methodPayload{
		APIName:           tool.Name,
		APIDescription:    truncate(tool.Description, descLimit),
		MethodName:        m.Name,
		MethodDescription: truncate(m.Description, descLimit),
		Parameters:        make([]paramPayload, 0, len(m.Parameters)),
	}
	for _, p := range m.Parameters {
		payload.Parameters = append(payload.Parameters, paramPayload{
			Name:        p.Name,
			Description: p.Description,
			Required:    p.Required,
			Type:        p.Type,
			Default:     p.Default,
			Example:     p.Example,
			Enum:        p.Enum,
		})
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: exampleInput},
		{Role: llm.RoleAssistant, Content: exampleOutput},
		{Role: llm.RoleUser, Content: string(data)},
	}, nil
}

// truncate cuts s to at most limit characters; limit <= 0 keeps s whole.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
