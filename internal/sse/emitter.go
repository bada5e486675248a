package sse

import (
	"context"
	"sync"
)

const (
	TypeCheckout = "checkout"
	TypeCheckIn  = "checkin"
)

// Message is one server-sent event.
type Message struct {
	Type string
	Data interface{}
}

// EventEmitter fans out checkout and check-in notifications to the SSE
// clients subscribed to an organizer or an event.
type EventEmitter struct {
	// key: organizerID
	orgClients     map[string][]chan Message
	orgClientMutex sync.RWMutex

	// key: eventID
	eventClients     map[string][]chan Message
	eventClientMutex sync.RWMutex
}

func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		orgClients:   make(map[string][]chan Message),
		eventClients: make(map[string][]chan Message),
	}
}

// SubscribeToOrganizer returns a channel of checkout messages for all events
// of organizerID. It is closed when ctx ends.
func (e *EventEmitter) SubscribeToOrganizer(ctx context.Context, organizerID string) <-chan Message {
	return subscribe(ctx, &e.orgClientMutex, e.orgClients, organizerID)
}

// SubscribeToEvent returns a channel of checkout and check-in messages for
// eventID. It is closed when ctx ends.
func (e *EventEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan Message {
	return subscribe(ctx, &e.eventClientMutex, e.eventClients, eventID)
}

func subscribe(ctx context.Context, mu *sync.RWMutex, clients map[string][]chan Message, key string) <-chan Message {
	clientChan := make(chan Message, 16)

	mu.Lock()
	clients[key] = append(clients[key], clientChan)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		remove(mu, clients, key, clientChan)
	}()
	return clientChan
}

func remove(mu *sync.RWMutex, clients map[string][]chan Message, key string, clientChan chan Message) {
	mu.Lock()
	defer mu.Unlock()

	list := clients[key]
	for i, ch := range list {
		if ch == clientChan {
			clients[key] = append(list[:i], list[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}

// broadcast sends without blocking; a client whose buffer is full misses the
// message. The read lock is held while sending so remove cannot close a
// channel mid-send.
func broadcast(mu *sync.RWMutex, clients map[string][]chan Message, key string, msg Message) {
	mu.RLock()
	defer mu.RUnlock()
	for _, clientChan := range clients[key] {
		select {
		case clientChan <- msg:
		default:
		}
	}
}

// EmitCheckout tells the organizer and the event's subscribers about a paid
// order.
func (e *EventEmitter) EmitCheckout(organizerID, eventID string, data interface{}) {
	msg := Message{Type: TypeCheckout, Data: data}
	broadcast(&e.orgClientMutex, e.orgClients, organizerID, msg)
	broadcast(&e.eventClientMutex, e.eventClients, eventID, msg)
}

// EmitCheckIn tells the event's subscribers about a scan.
func (e *EventEmitter) EmitCheckIn(eventID string, data interface{}) {
	broadcast(&e.eventClientMutex, e.eventClients, eventID, Message{Type: TypeCheckIn, Data: data})
}

func (e *EventEmitter) GetOrgClientCount(organizerID string) int {
	e.orgClientMutex.RLock()
	defer e.orgClientMutex.RUnlock()
	return len(e.orgClients[organizerID])
}

func (e *EventEmitter) GetEventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}
