package jsonfix

// ── db.<collection>.<method>(...) ───────────────────────────────────────────

// parseShellCall turns a mongosh call chain into the plan object shape:
//
//	db.customers.find({active: true}, {name: 1}).sort({name: 1}).limit(5)
//	→ {"collection":"customers","operation":"find","filter":{"active":true},
//	   "projection":{"name":1},"sort":{"name":1},"limit":5}
//
// Unknown methods are carried through as the operation name so that the
// validator, not the normalizer, decides whether they are allowed.
func (p *Parser) parseShellCall() Object {
	p.advance() // db
	p.advance() // .

	collection, ok := p.parseCollectionRef()
	if !ok {
		return nil
	}
	if !p.match(TokenDot) {
		p.addError(p.peek(), "expected '.<method>(...)' after db.%s", collection)
		return nil
	}

	methodTok := p.peek()
	if methodTok.Type != TokenIdent {
		p.addError(methodTok, "expected method name, got %s", describe(methodTok))
		return nil
	}
	p.advance()
	args := p.parseArgs()

	var (
		operation  = methodTok.Literal
		filter     any
		projection any
		pipeline   any
		sort       any
		limit      any
		skip       any
	)
	switch methodTok.Literal {
	case "find":
		filter, projection = arg(args, 0), arg(args, 1)
	case "findOne":
		operation = "find"
		filter, projection = arg(args, 0), arg(args, 1)
		limit = Number("1")
	case "countDocuments", "count", "estimatedDocumentCount":
		operation = "count"
		filter = arg(args, 0)
	case "aggregate":
		pipeline = arg(args, 0)
		if pipeline == nil {
			pipeline = []any{}
		}
	default:
		filter = arg(args, 0)
	}

	for p.check(TokenDot) {
		p.advance()
		mTok := p.peek()
		if mTok.Type != TokenIdent {
			p.addError(mTok, "expected method name, got %s", describe(mTok))
			return nil
		}
		p.advance()
		margs := p.parseArgs()
		switch mTok.Literal {
		case "sort":
			sort = arg(margs, 0)
		case "limit":
			limit = arg(margs, 0)
		case "skip":
			skip = arg(margs, 0)
		case "count", "itcount", "size":
			operation = "count"
		case "pretty", "toArray":
		default:
			p.addError(mTok, "unsupported cursor method %s()", mTok.Literal)
			return nil
		}
	}

	doc := Object{
		{Key: "collection", Value: collection},
		{Key: "operation", Value: operation},
	}
	add := func(key string, v any) {
		if v != nil {
			doc = append(doc, Member{Key: key, Value: v})
		}
	}
	add("filter", filter)
	add("projection", projection)
	add("sort", sort)
	add("limit", limit)
	add("skip", skip)
	add("pipeline", pipeline)
	return doc
}

// parseCollectionRef reads `name` or `getCollection("name")`.
func (p *Parser) parseCollectionRef() (string, bool) {
	tok := p.peek()
	switch {
	case tok.Type == TokenIdent && tok.Literal == "getCollection" && p.peekAt(1).Type == TokenLParen:
		p.advance()
		args := p.parseArgs()
		if name, ok := arg(args, 0).(string); ok && len(args) == 1 {
			return name, true
		}
		p.addError(tok, "getCollection() takes one string argument")
		return "", false
	case tok.Type == TokenIdent:
		p.advance()
		return tok.Literal, true
	default:
		p.addError(tok, "expected collection name after db., got %s", describe(tok))
		return "", false
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
