// Package engine содержит движок подготовки пайплайна к выполнению.
//
// Включает:
//   - parser.go    — загрузка PipelineSpec из YAML
//   - schema.go    — схемы параметров по типам шагов (реестр)
//   - validator.go — валидация StepSpec (собирает все нарушения разом)
//   - graph.go     — построение DAG (arena + индексы), циклы, топологический порядок
//
// Валидация и построение графа выполняются до любого обращения
// к удалённой платформе: ошибки здесь «бесплатны» и не требуют отката.
package engine
