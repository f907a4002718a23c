package rdf

// Namespaces.
const (
	RDFNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	XSDNamespace = "http://www.w3.org/2001/XMLSchema#"
	OWLNamespace = "http://www.w3.org/2002/07/owl#"
)

// Vocabulary used by the list view and the codecs.
const (
	First IRI = RDFNamespace + "first"
	Rest  IRI = RDFNamespace + "rest"
	Nil   IRI = RDFNamespace + "nil"
	Type  IRI = RDFNamespace + "type"
	List  IRI = RDFNamespace + "List"

	LangString IRI = RDFNamespace + "langString"

	XSDString  IRI = XSDNamespace + "string"
	XSDInteger IRI = XSDNamespace + "integer"
	XSDBoolean IRI = XSDNamespace + "boolean"

	SameAs IRI = OWLNamespace + "sameAs"
)
