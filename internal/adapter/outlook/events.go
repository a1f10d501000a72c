package outlook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/theakshaypant/studysync/internal/core"
)

// ListEvents reads the calendar view of the default calendar. calendarID is ignored.
func (o *OutlookAdapter) ListEvents(ctx context.Context, accessToken, _ string, from, to time.Time) ([]core.RemoteEvent, error) {
	client, err := o.client(accessToken)
	if err != nil {
		return nil, err
	}

	startStr := from.UTC().Format(time.RFC3339)
	endStr := to.UTC().Format(time.RFC3339)
	top := int32(100)

	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", `outlook.timezone="UTC"`)

	config := &users.ItemCalendarViewRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemCalendarViewRequestBuilderGetQueryParameters{
			StartDateTime: &startStr,
			EndDateTime:   &endStr,
			Select:        []string{"id", "subject", "start", "end", "isAllDay", "isCancelled", "transactionId"},
			Orderby:       []string{"start/dateTime"},
			Top:           &top,
		},
		Headers: headers,
	}
	result, err := client.Me().CalendarView().Get(ctx, config)
	if err != nil {
		return nil, classifyGraphError("fetch calendar view", err)
	}

	pageIterator, err := msgraphcore.NewPageIterator[models.Eventable](
		result,
		client.GetAdapter(),
		models.CreateEventCollectionResponseFromDiscriminatorValue,
	)
	if err != nil {
		return nil, fmt.Errorf("create page iterator: %w", err)
	}

	var results []core.RemoteEvent
	err = pageIterator.Iterate(ctx, func(item models.Eventable) bool {
		results = append(results, parseGraphEvent(item))
		return true
	})
	if err != nil {
		return nil, classifyGraphError("iterate events", err)
	}
	sortEventsByStartTime(results)
	return results, nil
}

// parseGraphEvent converts a Graph SDK event into a RemoteEvent. The
// transaction id set on create carries the session tag.
func parseGraphEvent(item models.Eventable) core.RemoteEvent {
	return core.RemoteEvent{
		ID:         derefStr(item.GetId()),
		Title:      derefStr(item.GetSubject()),
		CalendarID: DefaultCalendarID,
		Start:      parseSDKDateTime(item.GetStart()),
		End:        parseSDKDateTime(item.GetEnd()),
		AllDay:     derefBool(item.GetIsAllDay()),
		Cancelled:  derefBool(item.GetIsCancelled()),
		SessionID:  derefStr(item.GetTransactionId()),
	}
}

func toGraphEvent(p core.EventPayload) models.Eventable {
	ev := models.NewEvent()
	subject := p.Title
	ev.SetSubject(&subject)

	body := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	content := p.Description
	body.SetContentType(&contentType)
	body.SetContent(&content)
	ev.SetBody(body)

	ev.SetStart(dateTimeTimeZone(p.Start, p.TimeZone))
	ev.SetEnd(dateTimeTimeZone(p.End, p.TimeZone))

	on := p.ReminderMinutes > 0
	ev.SetIsReminderOn(&on)
	if on {
		minutes := int32(p.ReminderMinutes)
		ev.SetReminderMinutesBeforeStart(&minutes)
	}
	if p.SessionID != "" {
		// Graph drops a second POST with the same transaction id.
		txID := p.SessionID
		ev.SetTransactionId(&txID)
	}
	return ev
}

func dateTimeTimeZone(local, tz string) models.DateTimeTimeZoneable {
	dt := models.NewDateTimeTimeZone()
	dt.SetDateTime(&local)
	dt.SetTimeZone(&tz)
	return dt
}

func (o *OutlookAdapter) CreateEvent(ctx context.Context, accessToken, _ string, p core.EventPayload) (string, error) {
	client, err := o.client(accessToken)
	if err != nil {
		return "", err
	}
	created, err := client.Me().Calendar().Events().Post(ctx, toGraphEvent(p), nil)
	if err != nil {
		return "", classifyGraphError("create event", err)
	}
	return derefStr(created.GetId()), nil
}

func (o *OutlookAdapter) UpdateEvent(ctx context.Context, accessToken, _, eventID string, p core.EventPayload) error {
	client, err := o.client(accessToken)
	if err != nil {
		return err
	}
	if _, err := client.Me().Events().ByEventId(eventID).Patch(ctx, toGraphEvent(p), nil); err != nil {
		return classifyGraphError("update event", err)
	}
	return nil
}

func (o *OutlookAdapter) DeleteEvent(ctx context.Context, accessToken, _, eventID string) (*core.SoftFailure, error) {
	client, err := o.client(accessToken)
	if err != nil {
		return nil, err
	}
	err = client.Me().Events().ByEventId(eventID).Delete(ctx, nil)
	if err == nil {
		return nil, nil
	}
	switch status := graphStatus(err); status {
	case http.StatusNotFound, http.StatusGone:
		return nil, nil
	case http.StatusForbidden:
		return &core.SoftFailure{
			Provider: core.Microsoft,
			Op:       "delete",
			EventID:  eventID,
			Status:   status,
			Reason:   graphMessage(err),
		}, nil
	}
	return nil, classifyGraphError("delete event", err)
}
