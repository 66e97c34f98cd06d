package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Commands the agent may select
const (
	CommandStationLevel   = "GetStationLevel"
	CommandStationHistory = "GetStationHistory"
	CommandGeneralQuery   = "GeneralQuery"
)

// AgentResponse defines the structured output from the OpenAI agent.
type AgentResponse struct {
	CommandName string `json:"command_name" jsonschema_description:"The command to execute: GetStationLevel, GetStationHistory or GeneralQuery"`
	StationName string `json:"station_name" jsonschema_description:"The name of the station exactly as it appears in the list of known stations, if applicable"`
	UserMessage string `json:"user_message" jsonschema_description:"A short message to show back to the user in their original language"`
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, stations []string) (*AgentResponse, error)
}

// openAIServiceImpl implements the OpenAIService interface.
type openAIServiceImpl struct {
	client openai.Client
	schema interface{}
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates and initializes a new OpenAIService.
func NewOpenAIService(apiKey string, opts ...option.RequestOption) (OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is not set")
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &openAIServiceImpl{
		client: client,
		schema: GenerateSchema[AgentResponse](),
	}, nil
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, stations []string) (*AgentResponse, error) {
	systemPrompt := fmt.Sprintf(`You are a terse river gauge assistant for paddlers and anglers. You answer questions about the water level of monitored Irish rivers.

Known stations: %s

Behavior:
1. If the user wants the current level of a known station:
   - command_name = "GetStationLevel"
   - station_name = the matching name from the list, or "" if none matches.
   - user_message: a one-line confirmation in the user's language.
2. If the user wants the recent trend or history of a known station:
   - command_name = "GetStationHistory"
   - station_name and user_message as above.
3. Anything else (greetings, small talk, unknown rivers):
   - command_name = "GeneralQuery"
   - station_name = ""
   - user_message: a short reply in the user's language pointing them at /stations.

Output **strictly** in JSON.`, strings.Join(stations, ", "))

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "agent_response",
		Description: openai.String("Structured response containing command, station name, and user message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          openai.ChatModelGPT4o,
	})
	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	var agentResp AgentResponse
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &agentResp); err != nil {
		log.Printf("Failed to unmarshal OpenAI response: %s\nRaw response: %s", err, chat.Choices[0].Message.Content)
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}

	return &agentResp, nil
}
