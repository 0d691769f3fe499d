package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/logger"
)

// ClientInfo describes one page known to the worker.
type ClientInfo struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Controlled   bool      `json:"controlled"`
	Focused      bool      `json:"focused"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type client struct {
	info ClientInfo
	// attach and detach hook an in-process page (its outbox) to the
	// controlling worker. Remote clients leave them nil.
	attach func(channel.Controller)
	detach func()
	ctrl   channel.Controller
}

// Clients is the registry of pages a worker may control. It is shared by
// successive worker generations so a new worker can claim existing pages.
type Clients struct {
	mu      sync.Mutex
	clients map[string]*client
	// active controls every page registered from now on.
	active channel.Controller
}

func NewClients() *Clients {
	return &Clients{clients: map[string]*client{}}
}

// Register adds a page at url. If a worker is active the page is controlled
// immediately, like a fresh page load.
func (c *Clients) Register(url string, attach func(channel.Controller), detach func()) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := &client{
		info:   ClientInfo{ID: uuid.NewString(), URL: url, RegisteredAt: time.Now().UTC()},
		attach: attach,
		detach: detach,
	}
	c.clients[cl.info.ID] = cl
	if c.active != nil {
		c.control(cl, c.active)
	}
	logger.WithComponent("clients").Debugf("registered client %s at %s", cl.info.ID, url)
	return cl.info.ID
}

func (c *Clients) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		if cl.ctrl != nil && cl.detach != nil {
			cl.detach()
		}
		delete(c.clients, id)
	}
}

func (c *Clients) control(cl *client, ctrl channel.Controller) {
	cl.ctrl = ctrl
	cl.info.Controlled = true
	if cl.attach != nil {
		cl.attach(ctrl)
	}
}

// Claim makes ctrl the controller of every registered page and of pages
// registered later. It returns how many pages changed controller.
func (c *Clients) Claim(ctrl channel.Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = ctrl
	n := 0
	for _, cl := range c.clients {
		if cl.ctrl == ctrl {
			continue
		}
		c.control(cl, ctrl)
		n++
	}
	return n
}

// Release detaches every page controlled by ctrl.
func (c *Clients) Release(ctrl channel.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == ctrl {
		c.active = nil
	}
	for _, cl := range c.clients {
		if cl.ctrl != ctrl {
			continue
		}
		cl.ctrl = nil
		cl.info.Controlled = false
		if cl.detach != nil {
			cl.detach()
		}
	}
}

// List returns all pages, oldest first.
func (c *Clients) List() []ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ClientInfo, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, cl.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Focus focuses the first page whose URL is exactly url.
func (c *Clients) Focus(url string) (ClientInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target *client
	for _, cl := range c.clients {
		if cl.info.URL != url {
			continue
		}
		if target == nil || cl.info.RegisteredAt.Before(target.info.RegisteredAt) {
			target = cl
		}
	}
	if target == nil {
		return ClientInfo{}, false
	}
	for _, cl := range c.clients {
		cl.info.Focused = cl == target
	}
	return target.info, true
}

// OpenWindow registers a new focused page at url.
func (c *Clients) OpenWindow(url string) ClientInfo {
	id := c.Register(url, nil, nil)
	info, _ := c.focusID(id)
	return info
}

func (c *Clients) focusID(id string) (ClientInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.clients[id]
	if !ok {
		return ClientInfo{}, false
	}
	for _, cl := range c.clients {
		cl.info.Focused = cl == target
	}
	return target.info, true
}
