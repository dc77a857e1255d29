package approval

import "github.com/montageio/montage/pkg/models"

// SubscribeRequests registers an observer for newly created requests and
// returns its unsubscribe handle. Observers run synchronously on the creating
// goroutine; a panicking observer is logged and never affects the others or
// the caller.
func (g *Gate) SubscribeRequests(observer RequestObserver) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextObserverID++
	id := g.nextObserverID
	g.requestObs[id] = observer
	g.requestOrder = append(g.requestOrder, id)

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		delete(g.requestObs, id)
		g.requestOrder = removeID(g.requestOrder, id)
	}
}

// SubscribeResponses registers an observer for answered requests, with the
// same delivery and isolation rules as SubscribeRequests.
func (g *Gate) SubscribeResponses(observer ResponseObserver) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextObserverID++
	id := g.nextObserverID
	g.responseObs[id] = observer
	g.responseOrder = append(g.responseOrder, id)

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		delete(g.responseObs, id)
		g.responseOrder = removeID(g.responseOrder, id)
	}
}

func (g *Gate) notifyRequestObservers(request *models.ApprovalRequest) {
	g.mu.Lock()

	observers := make([]RequestObserver, 0, len(g.requestOrder))

	for _, id := range g.requestOrder {
		if observer, ok := g.requestObs[id]; ok {
			observers = append(observers, observer)
		}
	}
	g.mu.Unlock()

	for _, observer := range observers {
		g.safeNotifyRequest(observer, request)
	}
}

func (g *Gate) notifyResponseObservers(response *models.ApprovalResponse) {
	g.mu.Lock()

	observers := make([]ResponseObserver, 0, len(g.responseOrder))

	for _, id := range g.responseOrder {
		if observer, ok := g.responseObs[id]; ok {
			observers = append(observers, observer)
		}
	}
	g.mu.Unlock()

	for _, observer := range observers {
		g.safeNotifyResponse(observer, response)
	}
}

func (g *Gate) safeNotifyRequest(observer RequestObserver, request *models.ApprovalRequest) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Approval request observer panicked",
				"request_id", request.ID,
				"panic", r,
			)
		}
	}()

	observer(request)
}

func (g *Gate) safeNotifyResponse(observer ResponseObserver, response *models.ApprovalResponse) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Approval response observer panicked",
				"request_id", response.RequestID,
				"panic", r,
			)
		}
	}()

	observer(response)
}

func removeID(ids []int, id int) []int {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}

	return ids
}
