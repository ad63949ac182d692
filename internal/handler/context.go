// Package handler implements the slash command and component handlers. Each
// handler receives the gateway session, the raw interaction and the shared
// Deps; registration wires them into the interaction registry by name.
package handler

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
	"github.com/carfigo/server/internal/data"
	"github.com/carfigo/server/internal/persist"
	"github.com/carfigo/server/internal/scripting"
	"github.com/carfigo/server/internal/session"
	"github.com/carfigo/server/internal/spawn"
)

// Deps holds shared dependencies injected into all interaction handlers.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Players   *persist.PlayerRepo
	Instances *persist.FigureRepo
	Exchanges *persist.ExchangeRepo
	Figures   *data.FigureTable
	Events    *data.EventTable
	Spawner   *spawn.Manager
	Sessions  *session.Registry
	Scripts   *scripting.Engine // may be nil when no scripts dir is configured

	// Stat bonus roll for fresh catches. Guarded by RNGMu; the gateway
	// dispatches interactions concurrently.
	RNG   *rand.Rand
	RNGMu sync.Mutex

	// Per-player garage caches for autocomplete, playerID → *data.Cached.
	garages sync.Map
}

// HandlerFunc is one interaction handler with its deps already bound.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// Registry routes interactions to handlers: slash commands by name, message
// components and modal submits by custom-id prefix, autocomplete by command
// name.
type Registry struct {
	commands      map[string]HandlerFunc
	components    map[string]HandlerFunc
	modals        map[string]HandlerFunc
	autocompletes map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands:      make(map[string]HandlerFunc),
		components:    make(map[string]HandlerFunc),
		modals:        make(map[string]HandlerFunc),
		autocompletes: make(map[string]HandlerFunc),
	}
}

func (r *Registry) Command(name string, fn HandlerFunc) {
	r.commands[name] = fn
}

func (r *Registry) Component(prefix string, fn HandlerFunc) {
	r.components[prefix] = fn
}

func (r *Registry) Modal(prefix string, fn HandlerFunc) {
	r.modals[prefix] = fn
}

func (r *Registry) Autocomplete(command string, fn HandlerFunc) {
	r.autocompletes[command] = fn
}

// Dispatch routes one interaction. Unknown interactions are ignored.
func (r *Registry) Dispatch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if fn, ok := r.commands[i.ApplicationCommandData().Name]; ok {
			fn(s, i)
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		if fn, ok := r.autocompletes[i.ApplicationCommandData().Name]; ok {
			fn(s, i)
		}
	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		for prefix, fn := range r.components {
			if strings.HasPrefix(id, prefix) {
				fn(s, i)
				return
			}
		}
	case discordgo.InteractionModalSubmit:
		id := i.ModalSubmitData().CustomID
		for prefix, fn := range r.modals {
			if strings.HasPrefix(id, prefix) {
				fn(s, i)
				return
			}
		}
	}
}

// RegisterAll registers all interaction handlers into the registry.
func RegisterAll(reg *Registry, deps *Deps) {
	reg.Command("catch", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleCatch(s, i, deps)
	})
	reg.Command("garage", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleGarage(s, i, deps)
	})
	reg.Command("favorite", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleFavorite(s, i, deps)
	})
	reg.Command("history", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleHistory(s, i, deps)
	})
	reg.Command("spawnchannel", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleSpawnChannel(s, i, deps)
	})

	reg.Command("trade", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleBeginExchange(s, i, deps, session.TradeOutcome{})
	})
	reg.Command("battle", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleBeginExchange(s, i, deps, session.BattleOutcome{})
	})
	reg.Command("add", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleAddInstance(s, i, deps)
	})
	reg.Command("remove", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleRemoveInstance(s, i, deps)
	})

	garageIDs := func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleGarageAutocomplete(s, i, deps)
	}
	reg.Autocomplete("favorite", garageIDs)
	reg.Autocomplete("add", garageIDs)
	reg.Autocomplete("remove", garageIDs)

	reg.Component("catch:btn", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleCatchButton(s, i, deps)
	})
	reg.Modal("catch:modal", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleCatchModal(s, i, deps)
	})

	reg.Component("xchg:lock", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleLock(s, i, deps)
	})
	reg.Component("xchg:confirm", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleConfirm(s, i, deps)
	})
	reg.Component("xchg:cancel", func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		HandleCancel(s, i, deps)
	})
}

// --- shared interaction helpers ---

// reply sends an ephemeral text response; only the acting user sees it.
func reply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// announce sends a visible channel response.
func announce(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	})
}

// ack acknowledges a component interaction without posting anything; the
// session's own panel edit carries the state change.
func ack(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

// interactionUser returns the acting user for guild or DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}
