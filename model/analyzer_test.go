package model_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/model"
)

type User struct {
	model.Table `strata:"table=user"`
	ID          int64  `strata:"id"`
	FirstName   string
	LastName    string
}

type Comment struct {
	model.Table `strata:"table=comment"`
	ID          int64 `strata:"id"`
	ArticleID   int64 `strata:"column=article_id"`
	Text        string
	Author      User `strata:"fk=author_id"`
}

type Article struct {
	model.Table `strata:"table=article"`
	ID          int64  `strata:"id"`
	Title       string
	Content     string `strata:"lob"`
	Author      User      `strata:"fk=author_id"`
	Comments    []Comment `strata:"inversefk=article_id"`
}

func TestAnalyzeSimpleModel(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(Article{}))
	require.NoError(t, err)
	require.Len(t, node.IDFields, 1)
	require.Equal(t, "article", node.ConcreteTable().TableName)

	var author, comments *model.Field
	for _, f := range node.Fields() {
		switch f.GoName {
		case "Author":
			author = f
		case "Comments":
			comments = f
		}
	}
	require.NotNil(t, author)
	require.Equal(t, model.KindToOne, author.Kind)
	require.Equal(t, "author_id", author.ForeignKey)
	require.Equal(t, "user", author.Target.ConcreteTable().TableName)

	require.NotNil(t, comments)
	require.Equal(t, model.KindToMany, comments.Kind)
	require.Equal(t, "article_id", comments.ForeignKey)
	require.Equal(t, "comment", comments.Target.ConcreteTable().TableName)
}

// Asset (annotated) <- namedAsset (unannotated middle layer, adds Label) <-
// Equipment (annotated): namedAsset's own fields must flatten into
// Equipment's table, the nearest annotated descendant, per spec.md §4.B.
type Asset struct {
	model.Table `strata:"table=asset"`
	ID          int64 `strata:"id"`
	Tag         string
}

type namedAsset struct {
	Asset
	Label string
}

type Equipment struct {
	namedAsset
	model.Table `strata:"table=equipment"`
	Weight      float64
}

func TestAnalyzeTableChainFlattening(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(Equipment{}))
	require.NoError(t, err)
	require.Len(t, node.TableChain, 2)
	require.Equal(t, "asset", node.TableChain[0].TableName)
	require.Equal(t, "equipment", node.TableChain[1].TableName)

	var equipmentFields []string
	for _, f := range node.TableChain[1].OwnFields {
		equipmentFields = append(equipmentFields, f.GoName)
	}
	require.Contains(t, equipmentFields, "Label")
	require.Contains(t, equipmentFields, "Weight")
}

// Multi-table inheritance: a second annotated ancestor in the chain.
type Employee struct {
	model.Table `strata:"table=employee"`
	ID          int64 `strata:"id"`
	Name        string
}

type Manager struct {
	Employee
	model.Table `strata:"table=manager"`
	Budget      float64
}

func TestAnalyzeMultiTableInheritance(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(Manager{}))
	require.NoError(t, err)
	require.Len(t, node.TableChain, 2)
	require.Equal(t, "employee", node.TableChain[0].TableName)
	require.Equal(t, "manager", node.TableChain[1].TableName)
}

// Cycle: A -> B -> A.
type cycleB struct {
	model.Table `strata:"table=cycle_b"`
	ID          int64  `strata:"id"`
	A           cycleA `strata:"fk=a_id"`
}

type cycleA struct {
	model.Table `strata:"table=cycle_a"`
	ID          int64  `strata:"id"`
	B           cycleB `strata:"fk=b_id"`
}

func TestAnalyzeCycleDetected(t *testing.T) {
	_, err := model.Analyze(reflect.TypeOf(cycleA{}))
	require.Error(t, err)
	var cycleErr *model.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

type noID struct {
	model.Table `strata:"table=no_id"`
	Name        string
}

func TestAnalyzeMissingIDFails(t *testing.T) {
	_, err := model.Analyze(reflect.TypeOf(noID{}))
	require.Error(t, err)
}

