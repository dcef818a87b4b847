package slink

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/searchlink/searchlink-mongodb/errors"
)

// OperationType is the change event operation type reported by the source.
type OperationType string

const (
	Insert     OperationType = "insert"
	Update     OperationType = "update"
	Replace    OperationType = "replace"
	Delete     OperationType = "delete"
	Drop       OperationType = "drop"
	Invalidate OperationType = "invalidate"
)

// ChangeEvent is a parsed change feed event.
type ChangeEvent struct {
	OperationType OperationType
	Collection    string

	// DocID is the normalized document identifier. Empty for collection-level
	// events such as drop.
	DocID string

	// FullDocument is the complete document state after the change. Nil for
	// deletes, drops, and updates where the lookup found no document.
	FullDocument bson.Raw
}

type rawChangeEvent struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey  bson.Raw `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

// parseChangeEvent decodes a raw change stream document.
func parseChangeEvent(data bson.Raw) (*ChangeEvent, error) {
	var raw rawChangeEvent

	err := bson.Unmarshal(data, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal change event")
	}

	if raw.OperationType == "" {
		return nil, errors.New("missing operationType")
	}

	change := &ChangeEvent{
		OperationType: OperationType(raw.OperationType),
		Collection:    raw.NS.Coll,
		FullDocument:  raw.FullDocument,
	}

	if len(raw.DocumentKey) != 0 {
		id, err := NormalizeDocID(raw.DocumentKey.Lookup("_id"))
		if err != nil {
			return nil, errors.Wrap(err, "documentKey")
		}

		change.DocID = id
	}

	return change, nil
}

// NormalizeDocID converts a document identifier value to its canonical string
// form. ObjectIDs become their hex representation, strings are used as is, and
// any other type falls back to its extended JSON rendering.
func NormalizeDocID(v bson.RawValue) (string, error) {
	switch v.Type {
	case bson.TypeObjectID:
		oid, ok := v.ObjectIDOK()
		if !ok {
			return "", errors.New("malformed ObjectID value")
		}

		return oid.Hex(), nil

	case bson.TypeString:
		s, ok := v.StringValueOK()
		if !ok {
			return "", errors.New("malformed string value")
		}

		return s, nil

	case bson.Type(0):
		return "", errors.New("missing _id")

	default:
		return v.String(), nil
	}
}

// DocumentBody converts a full document into the search document source:
// relaxed extended JSON with the identifier field removed. The identifier is
// carried separately as the search document id.
func DocumentBody(doc bson.Raw) (json.RawMessage, error) {
	var d bson.D

	err := bson.Unmarshal(doc, &d)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal document")
	}

	for i := range d {
		if d[i].Key == "_id" {
			d = append(d[:i], d[i+1:]...)

			break
		}
	}

	body, err := bson.MarshalExtJSON(d, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document body")
	}

	return body, nil
}

// MutationKind tags the search store mutation an event translates to.
type MutationKind int

const (
	// MutationNone means the event requires no store mutation.
	MutationNone MutationKind = iota
	// MutationUpsert indexes the document, replacing an existing one.
	MutationUpsert
	// MutationDelete removes the document from the index.
	MutationDelete
	// MutationDropIndex removes the whole index.
	MutationDropIndex
)

// Mutation is a single idempotent search store operation.
type Mutation struct {
	Kind  MutationKind
	Index string
	DocID string
	Body  json.RawMessage
}

// TranslateEvent maps a change event to the store mutation it implies.
// Inserts, replaces, and updates with a document state all become an upsert,
// so redelivered events converge to the same store state. Updates without a
// document state and unrecognized operations translate to no mutation.
func TranslateEvent(prefix string, change *ChangeEvent) (Mutation, error) {
	index := IndexName(prefix, change.Collection)

	switch change.OperationType {
	case Insert, Replace, Update:
		if len(change.FullDocument) == 0 {
			// The document was deleted between the update and the lookup.
			// The upcoming delete event removes it from the index.
			return Mutation{Kind: MutationNone}, nil
		}

		body, err := DocumentBody(change.FullDocument)
		if err != nil {
			return Mutation{}, errors.Wrapf(err, "%s %q", change.OperationType, change.DocID)
		}

		return Mutation{
			Kind:  MutationUpsert,
			Index: index,
			DocID: change.DocID,
			Body:  body,
		}, nil

	case Delete:
		return Mutation{
			Kind:  MutationDelete,
			Index: index,
			DocID: change.DocID,
		}, nil

	case Drop:
		return Mutation{
			Kind:  MutationDropIndex,
			Index: index,
		}, nil

	default:
		return Mutation{Kind: MutationNone}, nil
	}
}
