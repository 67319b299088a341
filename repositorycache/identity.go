package repositorycache

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/domaincache"
)

// DomainFor derives a key layout from the record type: the entity namespace
// is the snake_case type name and the collection its plural. No scope field
// is set.
//
//	DomainFor[BlogPost]() // {Collection: "blog_posts", Entity: "blog_post"}
func DomainFor[T any]() domaincache.Domain {
	entity := snakeCase(typeName[T]())
	return domaincache.Domain{
		Collection: inflection.Plural(entity),
		Entity:     entity,
	}
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	// generic instantiations carry their type arguments in brackets
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return name
}

// identity reads the fields a mutation event needs from a record.
type identity struct {
	id    string
	scope string
}

func (i identity) payload(scopeField string) broadcast.Payload {
	p := broadcast.Payload{"id": i.id}
	if scopeField != "" && i.scope != "" {
		p[scopeField] = i.scope
	}
	return p
}

// identify looks for an ID field and, when scopeField is set, the field
// fieldMatches pairs with it.
func identify(record any, scopeField string) (identity, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return identity{}, fmt.Errorf("repositorycache: nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return identity{}, fmt.Errorf("repositorycache: record %s is not a struct", v.Type())
	}

	var out identity
	for _, fieldName := range []string{"ID", "Id"} {
		field := v.FieldByName(fieldName)
		if field.IsValid() && field.CanInterface() {
			out.id = fieldString(field)
			break
		}
	}
	if out.id == "" {
		return identity{}, fmt.Errorf("repositorycache: no ID field found in %s", v.Type())
	}

	if scopeField != "" {
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if fieldMatches(t.Field(i), scopeField) {
				out.scope = fieldString(v.Field(i))
				break
			}
		}
	}

	return out, nil
}

func fieldString(v reflect.Value) string {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
